package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteString(t *testing.T) {
	assert.Equal(t, `'testpass'`, QuoteString("testpass"))
	assert.Equal(t, `'it''s'`, QuoteString("it's"))
	assert.Equal(t, `'a\\b'`, QuoteString(`a\b`))
	assert.Equal(t, `'\\'''`, QuoteString(`\'`))
	assert.Equal(t, `''`, QuoteString(""))
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, "`db1`", QuoteIdentifier("db1"))
	assert.Equal(t, "`we``ird`", QuoteIdentifier("we`ird"))
}

func TestCreateUserStatement(t *testing.T) {
	assert.Equal(t,
		"CREATE USER 'testuser'@'%' IDENTIFIED WITH mysql_native_password BY 'testpass'",
		CreateUserStatement("testuser", "testpass", "mysql_native_password"))
	assert.Equal(t,
		"CREATE USER 'testuser'@'%' IDENTIFIED BY 'testpass'",
		CreateUserStatement("testuser", "testpass", ""))
	assert.Equal(t,
		"CREATE USER 'root'@'%' IDENTIFIED WITH caching_sha2_password BY ''",
		CreateUserStatement("root", "", "caching_sha2_password"))
}

func TestGrantAllStatement(t *testing.T) {
	assert.Equal(t, "GRANT ALL ON *.* TO 'testuser'@'%' WITH GRANT OPTION", GrantAllStatement("testuser"))
}

func TestCreateDatabaseStatement(t *testing.T) {
	assert.Equal(t, "CREATE DATABASE `db1`", CreateDatabaseStatement("db1"))
}
