package db

import (
	"fmt"
	"strings"
)

// RedactedPassword replaces passwords in statements that end up in errors or logs.
const RedactedPassword = "****"

// QuoteString returns s as a single-quoted MySQL string literal.
func QuoteString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `''`)
	return "'" + s + "'"
}

// QuoteIdentifier returns name as a backtick-quoted MySQL identifier.
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// CreateUserStatement creates user for any host. An empty plugin leaves the
// authentication plugin to the server default.
func CreateUserStatement(user, password, plugin string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE USER %s@'%%'", QuoteString(user))
	if plugin != "" {
		sb.WriteString(" IDENTIFIED WITH " + plugin)
		sb.WriteString(" BY " + QuoteString(password))
	} else {
		sb.WriteString(" IDENTIFIED BY " + QuoteString(password))
	}
	return sb.String()
}

// GrantAllStatement grants user every privilege on every schema, including
// the right to grant them.
func GrantAllStatement(user string) string {
	return fmt.Sprintf("GRANT ALL ON *.* TO %s@'%%' WITH GRANT OPTION", QuoteString(user))
}

// CreateDatabaseStatement creates the schema name.
func CreateDatabaseStatement(name string) string {
	return "CREATE DATABASE " + QuoteIdentifier(name)
}
