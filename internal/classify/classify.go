// Package classify maps file extensions to language and document profiles.
// Classification is pure: it performs no I/O and no extension maps to more
// than one category.
package classify

import (
	"path"
	"strings"

	"github.com/XanakoneSPT/PBL6-SandBox/pkg/types"
)

// profiles is the closed extension table. Lookup is case-insensitive;
// anything absent is CategoryUnsupported.
var profiles = map[string]types.ContentProfile{
	".py":  {Ext: ".py", Runtime: "python3", Category: types.CategoryInterpreted},
	".js":  {Ext: ".js", Runtime: "node", Category: types.CategoryInterpreted},
	".sh":  {Ext: ".sh", Runtime: "bash", Category: types.CategoryInterpreted},
	".rb":  {Ext: ".rb", Runtime: "ruby", Category: types.CategoryInterpreted},
	".pl":  {Ext: ".pl", Runtime: "perl", Category: types.CategoryInterpreted},
	".php": {Ext: ".php", Runtime: "php", Category: types.CategoryInterpreted},

	".c":    {Ext: ".c", Runtime: "gcc", Category: types.CategoryCompiled},
	".cpp":  {Ext: ".cpp", Runtime: "g++", Category: types.CategoryCompiled},
	".java": {Ext: ".java", Runtime: "javac", Category: types.CategoryCompiled},
	".go":   {Ext: ".go", Runtime: "go", Category: types.CategoryCompiled},

	".pdf":  {Ext: ".pdf", Category: types.CategoryDocument},
	".doc":  {Ext: ".doc", Category: types.CategoryDocument},
	".docx": {Ext: ".docx", Category: types.CategoryDocument},
	".txt":  {Ext: ".txt", Category: types.CategoryDocument},
	".rtf":  {Ext: ".rtf", Category: types.CategoryDocument},
}

// Classify returns the content profile for a file path. Unknown
// extensions yield a profile with CategoryUnsupported; no further
// sandbox operations may proceed on it.
func Classify(p string) types.ContentProfile {
	ext := strings.ToLower(path.Ext(p))
	if profile, ok := profiles[ext]; ok {
		return profile
	}
	return types.ContentProfile{Ext: ext, Category: types.CategoryUnsupported}
}
