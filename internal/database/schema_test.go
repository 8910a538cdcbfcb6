package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaStatements(t *testing.T) {
	stmts := schemaStatements("processed_documents")
	require.Len(t, stmts, 2)

	assert.Contains(t, stmts[0], `CREATE TABLE IF NOT EXISTS "processed_documents"`)
	assert.Contains(t, stmts[0], "file_name      TEXT NOT NULL UNIQUE")
	assert.Contains(t, stmts[1], `"processed_documents_uploaded_at_idx"`)
	assert.Contains(t, stmts[1], "uploaded_at DESC")
}

func TestSchemaStatements_QuotesTableName(t *testing.T) {
	stmts := schemaStatements(`docs"; DROP TABLE x; --`)
	assert.Contains(t, stmts[0], `"docs""; DROP TABLE x; --"`)
}
