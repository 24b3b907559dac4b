// Package contentasset keeps stored image assets consistent with the content
// that references them.
//
// Content entities (home content, articles, blogs, packages, testimonials)
// carry image slots, galleries and a rich-text body. The Service saves them,
// moves them to and from the trash and deletes them permanently. On every
// save it uploads inline data payloads, rewrites them to references and
// deletes the assets the previous version referenced but the new one does
// not. A permanent delete reclaims every asset the entity held. Trash and
// restore never touch assets.
//
// Ordering
//
// A save uploads first, then writes the repository, then deletes. If the
// write fails the uploads of that attempt are deleted again, so the store is
// left as it was. A delete never precedes a successful write, so a persisted
// entity never points at a missing asset. Failed deletions after a commit are
// ReclaimWarnings: logged, recorded in a LeakLedger and retried by a Sweeper.
//
// Repositories (memory, Postgres, GORM) and blob stores (memory, filesystem,
// S3, GCS) are provided under subpackages.
package contentasset
