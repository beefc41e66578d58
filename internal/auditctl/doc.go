// Package auditctl implements the operator command line for the audit
// ledger: integrity verification, credential hashing and key generation.
package auditctl
