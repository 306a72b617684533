package store

import (
	"encoding/json"
	"fmt"

	"github.com/google/orderedcode"
	dbm "github.com/tendermint/tm-db"

	"github.com/roundstep/roundstep/types"
)

/*
BlockStore is a simple low level store for blocks.

There are two types of information stored:
 - Block:   The decided block for each height
 - Commit:  The commit that finalized each block

The store can be assumed to contain all contiguous blocks between base and
height (inclusive).

NOTE: BlockStore methods will panic if they encounter errors deserializing
loaded data, indicating probable corruption on disk.
*/
type BlockStore struct {
	db dbm.DB
}

// NewBlockStore returns a new BlockStore with the given DB, initialized to
// the last height that was committed to the DB.
func NewBlockStore(db dbm.DB) *BlockStore {
	return &BlockStore{db: db}
}

// Base returns the first known contiguous block height, or 0 for empty
// block stores.
func (bs *BlockStore) Base() int64 {
	iter, err := bs.db.Iterator(
		blockKey(1),
		blockKey(1<<63-1),
	)
	if err != nil {
		panic(err)
	}
	defer iter.Close()

	if iter.Valid() {
		height, err := decodeBlockKey(iter.Key())
		if err != nil {
			panic(err)
		}
		return height
	}
	return 0
}

// Height returns the last known contiguous block height, or 0 for empty
// block stores.
func (bs *BlockStore) Height() int64 {
	iter, err := bs.db.ReverseIterator(
		blockKey(1),
		blockKey(1<<63-1),
	)
	if err != nil {
		panic(err)
	}
	defer iter.Close()

	if iter.Valid() {
		height, err := decodeBlockKey(iter.Key())
		if err != nil {
			panic(err)
		}
		return height
	}
	return 0
}

// Size returns the number of blocks in the block store.
func (bs *BlockStore) Size() int64 {
	height := bs.Height()
	if height == 0 {
		return 0
	}
	return height + 1 - bs.Base()
}

// LoadBlock returns the block with the given height. If no block is found
// for that height, it returns nil.
func (bs *BlockStore) LoadBlock(height int64) *types.Block {
	bz, err := bs.db.Get(blockKey(height))
	if err != nil {
		panic(err)
	}
	if len(bz) == 0 {
		return nil
	}

	block := new(types.Block)
	if err := json.Unmarshal(bz, block); err != nil {
		panic(fmt.Errorf("error reading block: %w", err))
	}
	return block
}

// LoadBlockCommit returns the commit made at the given height, contained in
// the block at height+1. If no commit is found for the height, it returns
// nil.
func (bs *BlockStore) LoadBlockCommit(height int64) *types.Commit {
	bz, err := bs.db.Get(blockCommitKey(height))
	if err != nil {
		panic(err)
	}
	if len(bz) == 0 {
		return nil
	}

	commit := new(types.Commit)
	if err := json.Unmarshal(bz, commit); err != nil {
		panic(fmt.Errorf("error reading block commit: %w", err))
	}
	return commit
}

// LoadSeenCommit returns the last locally seen commit for the most recent
// height. This is useful when we've seen a commit, but there has not yet
// been a new block at height+1 that includes this commit in its LastCommit
// field.
func (bs *BlockStore) LoadSeenCommit() *types.Commit {
	bz, err := bs.db.Get(seenCommitKey())
	if err != nil {
		panic(err)
	}
	if len(bz) == 0 {
		return nil
	}

	commit := new(types.Commit)
	if err := json.Unmarshal(bz, commit); err != nil {
		panic(fmt.Errorf("error reading seen commit: %w", err))
	}
	return commit
}

// SaveBlock persists the given block and seenCommit to the underlying db.
//
// seenCommit: The +2/3 precommits that were seen which committed at height.
// If all the nodes restart after committing a block, we need this to reload
// the precommits to catch-up nodes to the most recent height. Otherwise
// they'd stall at height-1.
func (bs *BlockStore) SaveBlock(block *types.Block, seenCommit *types.Commit) {
	if block == nil {
		panic("BlockStore can only save a non-nil block")
	}

	height := block.Height

	if g, w := height, bs.Height()+1; bs.Base() > 0 && g != w {
		panic(fmt.Sprintf("BlockStore can only save contiguous blocks. Wanted %v, got %v", w, g))
	}
	if height != seenCommit.Height {
		panic(fmt.Sprintf("BlockStore cannot save seen commit of a different height (block: %d, commit: %d)",
			height, seenCommit.Height))
	}

	batch := bs.db.NewBatch()
	defer batch.Close()

	blockBytes, err := json.Marshal(block)
	if err != nil {
		panic(fmt.Errorf("unable to marshal block: %w", err))
	}
	if err := batch.Set(blockKey(height), blockBytes); err != nil {
		panic(err)
	}

	// The block's LastCommit is the canonical commit for height-1.
	if block.LastCommit != nil {
		commitBytes, err := json.Marshal(block.LastCommit)
		if err != nil {
			panic(fmt.Errorf("unable to marshal commit: %w", err))
		}
		if err := batch.Set(blockCommitKey(height-1), commitBytes); err != nil {
			panic(err)
		}
	}

	seenCommitBytes, err := json.Marshal(seenCommit)
	if err != nil {
		panic(fmt.Errorf("unable to marshal seen commit: %w", err))
	}
	if err := batch.Set(seenCommitKey(), seenCommitBytes); err != nil {
		panic(err)
	}

	if err := batch.WriteSync(); err != nil {
		panic(err)
	}
}

// Close closes the underlying db.
func (bs *BlockStore) Close() error {
	return bs.db.Close()
}

//---------------------------------- KEY ENCODING -----------------------------------------

const (
	// prefixes must be unique across all db keys
	prefixBlock       = int64(0)
	prefixBlockCommit = int64(1)
	prefixSeenCommit  = int64(2)
)

func blockKey(height int64) []byte {
	key, err := orderedcode.Append(nil, prefixBlock, height)
	if err != nil {
		panic(err)
	}
	return key
}

func decodeBlockKey(key []byte) (height int64, err error) {
	var prefix int64
	remaining, err := orderedcode.Parse(string(key), &prefix, &height)
	if err != nil {
		return
	}
	if len(remaining) != 0 {
		return -1, fmt.Errorf("expected complete key but got remainder: %s", remaining)
	}
	if prefix != prefixBlock {
		return -1, fmt.Errorf("incorrect prefix. Expected %v, got %v", prefixBlock, prefix)
	}
	return
}

func blockCommitKey(height int64) []byte {
	key, err := orderedcode.Append(nil, prefixBlockCommit, height)
	if err != nil {
		panic(err)
	}
	return key
}

func seenCommitKey() []byte {
	key, err := orderedcode.Append(nil, prefixSeenCommit)
	if err != nil {
		panic(err)
	}
	return key
}
