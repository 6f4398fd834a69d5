package runner

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupportedLanguage is returned for languages outside the supported set
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Language represents a supported programming language
type Language string

const (
	LanguagePython Language = "python"
	LanguageJava   Language = "java"
	LanguageC      Language = "c"
	LanguageCPP    Language = "cpp"
)

// IsValid checks if the language is supported
func (l Language) IsValid() bool {
	switch l {
	case LanguagePython, LanguageJava, LanguageC, LanguageCPP:
		return true
	default:
		return false
	}
}

// String returns the language as a string
func (l Language) String() string {
	return string(l)
}

// ParseLanguage converts a string to a Language
func ParseLanguage(s string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "python", "py":
		return LanguagePython, nil
	case "java":
		return LanguageJava, nil
	case "c":
		return LanguageC, nil
	case "cpp", "c++":
		return LanguageCPP, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedLanguage, s)
	}
}

// LanguageFromFilename guesses the language from a file extension
func LanguageFromFilename(name string) (Language, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".py":
		return LanguagePython, nil
	case ".java":
		return LanguageJava, nil
	case ".c", ".h":
		return LanguageC, nil
	case ".cpp", ".cc", ".cxx", ".hpp":
		return LanguageCPP, nil
	default:
		return "", fmt.Errorf("%w: cannot infer language from %q", ErrUnsupportedLanguage, name)
	}
}

// LanguageConfig contains language-specific configuration
type LanguageConfig struct {
	Name            string // display name
	FileName        string // virtual source file shown in banners
	Compiler        string // fixed compiler identifier for banner lines
	CompilerCommand string
	CommentPrefix   string
	Template        string
}

// DefaultLanguageConfigs returns default configurations for all supported languages
func DefaultLanguageConfigs() map[Language]LanguageConfig {
	return map[Language]LanguageConfig{
		LanguagePython: {
			Name:            "Python",
			FileName:        "main.py",
			Compiler:        "Python 3.11.4",
			CompilerCommand: "python3 main.py",
			CommentPrefix:   "#",
			Template:        pythonTemplate,
		},
		LanguageJava: {
			Name:            "Java",
			FileName:        "Main.java",
			Compiler:        "OpenJDK 17.0.2 (javac)",
			CompilerCommand: "javac Main.java && java Main",
			CommentPrefix:   "//",
			Template:        javaTemplate,
		},
		LanguageC: {
			Name:            "C",
			FileName:        "main.c",
			Compiler:        "GCC 11.4.0",
			CompilerCommand: "gcc -Wall -o main main.c && ./main",
			CommentPrefix:   "//",
			Template:        cTemplate,
		},
		LanguageCPP: {
			Name:            "C++",
			FileName:        "main.cpp",
			Compiler:        "G++ 11.4.0 (C++17)",
			CompilerCommand: "g++ -std=c++17 -Wall -o main main.cpp && ./main",
			CommentPrefix:   "//",
			Template:        cppTemplate,
		},
	}
}

// ConfigFor returns the configuration for a language
func ConfigFor(lang Language) (LanguageConfig, error) {
	cfg, ok := DefaultLanguageConfigs()[lang]
	if !ok {
		return LanguageConfig{}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, lang)
	}
	return cfg, nil
}

// Template returns the canonical starter source for a language
func Template(lang Language) (string, error) {
	cfg, err := ConfigFor(lang)
	if err != nil {
		return "", err
	}
	return cfg.Template, nil
}

// SupportedLanguages returns all languages in a stable order
func SupportedLanguages() []Language {
	return []Language{LanguagePython, LanguageJava, LanguageC, LanguageCPP}
}

const pythonTemplate = `# Python 3 starter
# Prints the squares of 1 through 5
for i in range(1, 6):
    print(i * i)
`

const javaTemplate = `public class Main {
    public static void main(String[] args) {
        for (int i = 0; i < 5; i++) {
            System.out.println("Hello from Java: " + i);
        }
    }
}
`

const cTemplate = `#include <stdio.h>

int main() {
    for (int i = 0; i < 5; i++) {
        printf("Value: %d\n", i);
    }
    return 0;
}
`

const cppTemplate = `#include <iostream>
using namespace std;

int main() {
    for (int i = 1; i <= 5; i++) {
        cout << "Line " << i << endl;
    }
    return 0;
}
`
