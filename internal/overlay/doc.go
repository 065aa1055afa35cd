// Package overlay loads a main configuration file plus any number of
// auxiliary files from one directory and resolves settings across them.
//
// Sources are YAML (or HuJSON) documents whose top-level keys are setting
// names. Values may read the environment and secret files at load time:
//
//	DATABASE:
//	  NAME: !env {name: DB_NAME, default: peering_manager}
//	  PASSWORD: !secret {name: db_password, default: !env {name: DB_PASSWORD, default: ""}}
//	  CONN_MAX_AGE: !env {name: DB_CONN_MAX_AGE, default: "300", as: int}
//
// The JSON form of a directive is {"$env": "DB_NAME", "default": "x", "as": "int"}
// or {"$secret": "db_password", "default": "x"}.
//
// Lookups go through a Facade, which returns the value from the first source
// in the Chain that defines the name. Auxiliary files outrank the main file.
package overlay
