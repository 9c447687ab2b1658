package main

import "time"

// Server configuration constants
const (
	// MCP server name
	ServerName = "deck-mcp"
	// Server version following semantic versioning
	ServerVersion = "2.0.0"
)

// Deck engine defaults
const (
	// Save points kept per session before the oldest is dropped
	DefaultRetention = 40
	// Age after which a mutation lock is treated as abandoned
	DefaultLockTimeout = 5 * time.Minute
	// How long a mutation waits for its scoring pass before snapshotting
	DefaultScoringWait = 20 * time.Second
	// Upper bound for a single judge call
	DefaultScoringTimeout = 60 * time.Second
	// Parallel judge calls per scoring pass
	DefaultScoringConcurrency = 4
	// Live decks kept in the process-local cache
	DefaultCacheMaxSessions = 1024
	// Idle time before an unlocked cached deck is evicted
	DefaultCacheTTL = 2 * time.Hour
	// Longest accepted session identifier
	MaxSessionIDLength = 128
	// Title given to decks that do not have one
	DefaultDeckTitle = "Untitled deck"
)

// Storage constants
const (
	// Default directory for the badger save point database
	DefaultDataDir = "deck_data"
	// Default SQLite file when the sqlite backend is selected
	DefaultSQLiteFile = "deck.db"
	// Default directory for the persisted version search index
	DefaultIndexDir = "deck_index"
	// Backend names accepted in config
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// Model configuration constants
const (
	// Judge model scoring slide quality
	DefaultJudgeModel = "gemini-flash-lite-latest"
	// Model proposing edits from a natural-language intent
	DefaultProposerModel = "gemini-flash-latest"
	// Embedding model for the save point search index
	DefaultEmbeddingModel = "gemini-embedding-001"
	// Output dimensionality for embeddings (MRL optimized)
	EmbeddingDimension = 768
	// Judge calls per second
	DefaultJudgeRPS = 2.0
)

// Embedding task type constants
const (
	TaskTypeDocument = "RETRIEVAL_DOCUMENT"
	TaskTypeQuery    = "RETRIEVAL_QUERY"
	// Prefix to mark query tasks in the embedding function
	QueryTaskPrefix = "QUERY_TASK:"
	// Collection name in the vector database
	VersionCollectionName = "save_points"
	// Default number of results for version search
	DefaultSearchResults = 5
)

// UI/CLI messages
const (
	PromptStr     = "deck> "
	WelcomeMsg    = "=== DeckMCP Test Mode ==="
	HelpMsg       = "Commands: new | use <session> | show | render | add [pos] <html> | edit <pos> <html> | delete <pos> | dup <pos> | move <i,j,k> | style <css> | title <text> | intent <text> | versions | search <q> | preview <n> | restore <n> | help | exit"
	UnknownCmdMsg = "Unknown command. Type 'help' for the command list."
	BusyMsg       = "Another edit is still running for this deck. Try again in a moment."
	EmptyDeckMsg  = "Deck has no slides yet."
	NoVersionsMsg = "No save points yet."
	MaxSnippetLen = 60
)
