// Package knowledge implements a repository for community-contributed
// knowledge packages: zip archives of documentation with a SKILL.md manifest
// at the root and a references/ directory.
//
// A single Service orchestrates validation, content-addressed storage,
// metadata persistence, search, ratings, recommendations and the
// pending/approved/rejected review workflow. Repositories (memory, SQLite,
// Postgres) and blob stores (memory, filesystem, S3) live in subpackages and
// are plugged in with functional options:
//
//	svc, err := knowledge.New(
//		knowledge.WithRepository(memory.New()),
//		knowledge.WithBlobStore(memorystorage.New()),
//	)
//
// Storage Layout
//
// Uploaded archives are written under staging/{category}/ and moved to
// {category}/ when approved. Object names follow
// {name}_{YYYYMMDD}_{hash6}.zip so a path can be rebuilt from metadata alone.
// A small hash index (.index/sha256/{hash}) maps content hashes to their
// current key, which gives Put its deduplication.
package knowledge
