package utils

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// LoadEnvVarsFromFile loads .env style files into the process environment.
// Files that do not exist are ignored; variables already set win.
func LoadEnvVarsFromFile(filenames ...string) error {
	if len(filenames) == 0 {
		filenames = []string{".env"}
	}
	for _, name := range filenames {
		err := godotenv.Load(name)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// GetEnvVar returns the value of key, or fallback when it is unset or empty.
func GetEnvVar(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

// Camelize turns a snake or kebab cased name into CamelCase:
// "user_roles" becomes "UserRoles".
func Camelize(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	// Casers keep state, so one per call.
	caser := cases.Title(language.Und, cases.NoLower)
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(caser.String(p))
	}
	return b.String()
}

// SanitizeVersion keeps only the characters of version in [0-9A-Za-z].
func SanitizeVersion(version string) string {
	var b strings.Builder
	for _, r := range version {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// QuoteIdentifier quotes a MySQL identifier with backticks.
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// QualifiedName quotes table and prefixes it with schema when one is given.
func QualifiedName(schema, table string) string {
	if schema == "" {
		return QuoteIdentifier(table)
	}
	return QuoteIdentifier(schema) + "." + QuoteIdentifier(table)
}
