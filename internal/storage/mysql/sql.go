package mysql

const reviewColumns = "id, broker_id, author_id, rating, body, fingerprint, status, flags, severity, duplicate_of_id, created_at, moderated_at, admin_notes"

const insertReviewSQL = `
INSERT INTO reviews
  (` + reviewColumns + `)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)
`

const insertAuditSQL = `
INSERT INTO review_audit (review_id, from_status, to_status, actor, notes, at)
VALUES (?, ?, ?, ?, ?, ?)
`

// Compare-and-set on the status; the fingerprint column is never updated.
const updateStatusSQL = `
UPDATE reviews
SET status       = ?,
    moderated_at = ?,
    admin_notes  = COALESCE(NULLIF(?, ''), admin_notes)
WHERE id = ? AND status = ?
`

const currentStatusSQL = `SELECT status FROM reviews WHERE id = ? FOR UPDATE`

// -----------------------------------------------------------------------------
// READ QUERIES
// -----------------------------------------------------------------------------

const getReviewSQL = `SELECT ` + reviewColumns + ` FROM reviews WHERE id = ?`

// Keyset pages, newest first on (created_at, id). The cursor predicate is
// appended only when a cursor is present.
const listApprovedSQL = `SELECT ` + reviewColumns + ` FROM reviews WHERE broker_id = ? AND status = 'approved'`

const listByStatusSQL = `SELECT ` + reviewColumns + ` FROM reviews WHERE status = ?`

const keysetAfterSQL = ` AND (created_at < ? OR (created_at = ? AND id < ?))`

const keysetOrderSQL = ` ORDER BY created_at DESC, id DESC LIMIT ?`

const recentFingerprintsSQL = `
SELECT id, broker_id, fingerprint, body, created_at
FROM reviews
WHERE broker_id = ? AND created_at >= ?
ORDER BY created_at, id
`

const aggregateApprovedSQL = `
SELECT COUNT(*), COALESCE(SUM(rating), 0)
FROM reviews
WHERE broker_id = ? AND status = 'approved'
`

const countApprovedByAuthorSQL = `SELECT COUNT(*) FROM reviews WHERE author_id = ? AND status = 'approved'`

const listAuditSQL = `
SELECT review_id, from_status, to_status, actor, notes, at
FROM review_audit
WHERE review_id = ?
ORDER BY id
`
