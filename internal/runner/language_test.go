package runner

import (
	"strings"
	"testing"
)

func TestLanguage_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		lang     Language
		expected bool
	}{
		{"python is valid", LanguagePython, true},
		{"java is valid", LanguageJava, true},
		{"c is valid", LanguageC, true},
		{"cpp is valid", LanguageCPP, true},
		{"empty is invalid", Language(""), false},
		{"unknown is invalid", Language("go"), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.lang.IsValid()
			if got != tc.expected {
				t.Errorf("Language(%q).IsValid() = %v; want %v", tc.lang, got, tc.expected)
			}
		})
	}
}

func TestParseLanguage(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		expected  Language
		expectErr bool
	}{
		{"parse python", "python", LanguagePython, false},
		{"parse py alias", "py", LanguagePython, false},
		{"parse java", "Java", LanguageJava, false},
		{"parse c", "c", LanguageC, false},
		{"parse cpp", "cpp", LanguageCPP, false},
		{"parse c++ alias", "c++", LanguageCPP, false},
		{"parse invalid", "rust", "", true},
		{"parse empty", "", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseLanguage(tc.input)
			if tc.expectErr {
				if err == nil {
					t.Errorf("ParseLanguage(%q) expected error, got nil", tc.input)
				}
				return
			}
			if err != nil {
				t.Errorf("ParseLanguage(%q) unexpected error: %v", tc.input, err)
				return
			}
			if got != tc.expected {
				t.Errorf("ParseLanguage(%q) = %v; want %v", tc.input, got, tc.expected)
			}
		})
	}
}

func TestLanguageFromFilename(t *testing.T) {
	tests := []struct {
		file      string
		expected  Language
		expectErr bool
	}{
		{"main.py", LanguagePython, false},
		{"src/Main.java", LanguageJava, false},
		{"hello.c", LanguageC, false},
		{"hello.CPP", LanguageCPP, false},
		{"hello.cc", LanguageCPP, false},
		{"README", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.file, func(t *testing.T) {
			got, err := LanguageFromFilename(tc.file)
			if tc.expectErr {
				if err == nil {
					t.Errorf("LanguageFromFilename(%q) expected error", tc.file)
				}
				return
			}
			if err != nil {
				t.Fatalf("LanguageFromFilename(%q) unexpected error: %v", tc.file, err)
			}
			if got != tc.expected {
				t.Errorf("LanguageFromFilename(%q) = %v; want %v", tc.file, got, tc.expected)
			}
		})
	}
}

func TestDefaultLanguageConfigs(t *testing.T) {
	configs := DefaultLanguageConfigs()

	for _, lang := range SupportedLanguages() {
		t.Run(string(lang), func(t *testing.T) {
			cfg, ok := configs[lang]
			if !ok {
				t.Fatalf("no config for %s", lang)
			}
			if cfg.FileName == "" {
				t.Error("FileName should not be empty")
			}
			if cfg.Compiler == "" {
				t.Error("Compiler should not be empty")
			}
			if cfg.Template == "" {
				t.Error("Template should not be empty")
			}
		})
	}
}

func TestTemplate(t *testing.T) {
	for _, lang := range SupportedLanguages() {
		t.Run(string(lang), func(t *testing.T) {
			first, err := Template(lang)
			if err != nil {
				t.Fatalf("Template(%s) error: %v", lang, err)
			}
			second, _ := Template(lang)
			if first != second {
				t.Error("Template should be deterministic")
			}
			if strings.TrimSpace(first) == "" {
				t.Error("Template should not be blank")
			}
		})
	}

	if _, err := Template(Language("go")); err == nil {
		t.Error("Template for unsupported language should fail")
	}
}

func TestSupportedLanguages_Order(t *testing.T) {
	got := SupportedLanguages()
	want := []Language{LanguagePython, LanguageJava, LanguageC, LanguageCPP}
	if len(got) != len(want) {
		t.Fatalf("SupportedLanguages() = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("SupportedLanguages()[%d] = %s; want %s", i, got[i], want[i])
		}
	}
}
