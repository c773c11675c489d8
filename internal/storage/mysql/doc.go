// Package mysql persists invocation audit records and task state in MySQL.
// Schema changes are embedded SQL migrations applied by Migrate.
package mysql
