/*
Package rewind takes and restores point-in-time snapshots of a workspace.

# Overview

A checkpoint captures every tracked file of a workspace: its content
(stored once per distinct SHA-256), size, mode and modification time. The
Engine coordinates the pieces:

  - snapshot walks the tree through the ignore filter
  - store persists blobs and checkpoints (fs, memory, sqlite, badger)
  - index keeps a JSON summary of every checkpoint for fast listing
  - diff and restore compare and write checkpoints back
  - retention prunes and migrates checkpoints by policy
  - watch takes automatic checkpoints while files change

# Basic Usage

Open an engine for a directory inside a git repository, take a checkpoint,
and restore it later:

	eng, err := rewind.Open(ctx, "/path/to/workspace")
	if err != nil {
	    log.Fatal(err)
	}
	defer eng.Close()

	cp, err := eng.Create(ctx, rewind.CreateRequest{Name: "before refactor"})
	if err != nil {
	    log.Fatal(err)
	}

	// ... edit files ...

	res, err := eng.Restore(ctx, cp.ID, rewind.RestoreOptions{CreateBackup: true})
	if err != nil {
	    log.Fatal(err)
	}
	fmt.Println(len(res.Restored), "files restored")

The index lives at <git-common-dir>/info/checkpoints.json, shared by every
worktree of the repository. Outside a repository, pass WithIndexPath.

# Configuration

Settings come from <workspace>/.rewind.yaml:

	store:
	  backend: sqlite
	retention:
	  max_count: 50
	  preserve_tags: [release]

See config.FromConfig for the recognized keys. WithSettings bypasses the
file entirely.

# Errors

Every operation returns an *OpError whose Kind classifies the failure:

	_, err := eng.Get(ctx, id)
	if rewind.IsNotFound(err) {
	    // ...
	}

Panics inside an operation are recovered into KindInternal with a
*PanicError carrying the stack.

# Concurrency

An Engine is safe for concurrent use. Store-mutating operations take a
single-writer lock; reads run alongside them. A Registry shares one Engine
per workspace across callers.
*/
package rewind
