package sql

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log"
)

//go:embed init.sql
var initSQL string

//go:embed entries.sql
var entriesSQL string

//go:embed audit.sql
var auditSQL string

// EntriesFunctions lists every function defined in entries.sql.
var EntriesFunctions = []string{
	"init_knowledge_entries",
	"insert_entry",
	"select_entry",
	"select_entries_by_ids",
	"select_all_entries",
	"update_entry",
	"update_entry_embedding",
	"delete_entry",
	"select_entries_by_keyword",
	"select_entries_by_similarity",
	"select_entry_tags",
	"select_tag_overlap_candidates",
	"select_entries_for_embedding",
	"select_entry_totals",
	"select_entry_counts",
	"select_top_tags",
}

// AuditFunctions lists every function defined in audit.sql.
var AuditFunctions = []string{
	"init_audit_log",
	"insert_audit_entry",
	"select_audit_by_entry",
	"count_audit_by_entry",
	"select_audit_by_time_range",
	"count_audit_by_time_range",
	"count_audit_before",
	"delete_audit_batch",
}

// Init intializes db extensions
func Init(db *sql.DB) error {
	_, err := db.Exec(initSQL)
	if err != nil {
		return fmt.Errorf("error executing schema SQL: %w", err)
	}

	log.Println("Database extensions initialized successfully")
	return nil
}

// LoadEntriesSql loads the knowledge entry SQL functions.
// Without force an existing complete set is left untouched.
func LoadEntriesSql(db *sql.DB, force bool) error {
	return loadFunctions(db, "entries", entriesSQL, EntriesFunctions, force)
}

// LoadAuditSql loads the audit log SQL functions.
// Without force an existing complete set is left untouched.
func LoadAuditSql(db *sql.DB, force bool) error {
	return loadFunctions(db, "audit", auditSQL, AuditFunctions, force)
}

func loadFunctions(db *sql.DB, name string, script string, sqlFunctions []string, force bool) error {
	if !force {
		exist, err := checkFunctions(db, sqlFunctions)
		if err != nil {
			return fmt.Errorf("error checking existing %s functions: %w", name, err)
		}
		if exist {
			return nil
		}
	}

	_, err := db.Exec(script)
	if err != nil {
		return fmt.Errorf("error executing %s SQL: %w", name, err)
	}

	exist, err := checkFunctions(db, sqlFunctions)
	if err != nil {
		return fmt.Errorf("error checking existing functions: %w", err)
	}
	if !exist {
		return fmt.Errorf("not all required SQL functions were created")
	}

	log.Printf("SQL %s functions loaded successfully", name)
	return nil
}

// checkFunctions verifies that all required functions exist in the database
func checkFunctions(db *sql.DB, sqlFunctions []string) (bool, error) {
	var allExist bool
	for _, f := range sqlFunctions {
		err := db.QueryRow(
			`SELECT EXISTS(SELECT 1 FROM pg_proc WHERE proname = $1);`,
			f,
		).Scan(&allExist)
		if err != nil {
			return false, fmt.Errorf("error checking existence of function %s: %w", f, err)
		}
		if !allExist {
			log.Printf("Function %s does not exist", f)
			break
		}
	}
	return allExist, nil
}
