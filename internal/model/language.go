package model

import "sort"

// Language identifies the execution engine and editor mode for a room.
type Language struct {
	Name      string `json:"name"`      // display name ("Python")
	Engine    string `json:"engine"`    // runner engine id ("python")
	Version   string `json:"version"`   // runner engine version
	Extension string `json:"extension"` // file extension without dot
}

// languages supported by the execute service, keyed by engine id
var languages = map[string]Language{
	"python":     {Name: "Python", Engine: "python", Version: "3.10.0", Extension: "py"},
	"javascript": {Name: "JavaScript", Engine: "javascript", Version: "18.15.0", Extension: "js"},
	"typescript": {Name: "TypeScript", Engine: "typescript", Version: "5.0.3", Extension: "ts"},
	"go":         {Name: "Go", Engine: "go", Version: "1.16.2", Extension: "go"},
	"java":       {Name: "Java", Engine: "java", Version: "15.0.2", Extension: "java"},
	"c":          {Name: "C", Engine: "c", Version: "10.2.0", Extension: "c"},
	"cpp":        {Name: "C++", Engine: "cpp", Version: "10.2.0", Extension: "cpp"},
}

var boilerplates = map[string]string{
	"python":     "def main():\n    print(\"Hello, world!\")\n\n\nif __name__ == \"__main__\":\n    main()\n",
	"javascript": "function main() {\n  console.log(\"Hello, world!\");\n}\n\nmain();\n",
	"typescript": "function main(): void {\n  console.log(\"Hello, world!\");\n}\n\nmain();\n",
	"go":         "package main\n\nimport \"fmt\"\n\nfunc main() {\n\tfmt.Println(\"Hello, world!\")\n}\n",
	"java":       "public class Main {\n    public static void main(String[] args) {\n        System.out.println(\"Hello, world!\");\n    }\n}\n",
	"c":          "#include <stdio.h>\n\nint main(void) {\n    printf(\"Hello, world!\\n\");\n    return 0;\n}\n",
	"cpp":        "#include <iostream>\n\nint main() {\n    std::cout << \"Hello, world!\" << std::endl;\n    return 0;\n}\n",
}

// DefaultLanguage is the language of a freshly created room.
func DefaultLanguage() Language {
	return languages["python"]
}

// LookupLanguage resolves an engine id to its catalog entry.
func LookupLanguage(engine string) (Language, bool) {
	lang, ok := languages[engine]
	return lang, ok
}

// Boilerplate returns the starter source for an engine id. Unknown engines
// get empty source rather than an error.
func Boilerplate(engine string) string {
	return boilerplates[engine]
}

// Languages returns the full catalog sorted by engine id.
func Languages() []Language {
	list := make([]Language, 0, len(languages))
	for _, lang := range languages {
		list = append(list, lang)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Engine < list[j].Engine
	})
	return list
}

// DefaultFilename builds "main.<ext>" for the language.
func (l Language) DefaultFilename() string {
	if l.Extension == "" {
		return "main.txt"
	}
	return "main." + l.Extension
}
