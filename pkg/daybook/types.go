package daybook

import (
	"github.com/tmarbach/daybook/pkg/reconcile"
	"github.com/tmarbach/daybook/pkg/record"
	"github.com/tmarbach/daybook/pkg/store"
)

// Type re-exports for caller convenience

// Record is re-exported from the record package
type Record = record.Record

// Kind is re-exported from the record package
type Kind = record.Kind

// Kind constants re-exported from the record package
const (
	KindEntry    = record.KindEntry
	KindTag      = record.KindTag
	KindInsight  = record.KindInsight
	KindSolution = record.KindSolution
)

// Tombstone is re-exported from the record package
type Tombstone = record.Tombstone

// Tier is re-exported from the store package
type Tier = store.Tier

// Tier constants re-exported from the store package
const (
	TierPrimary   = store.TierPrimary
	TierSecondary = store.TierSecondary
	TierTertiary  = store.TierTertiary
)

// SyncResult is re-exported from the reconcile package
type SyncResult = reconcile.SyncResult

// FailureCode is re-exported from the reconcile package
type FailureCode = reconcile.FailureCode

// Event is re-exported from the reconcile package
type Event = reconcile.Event

// RetryOptions is re-exported from the reconcile package
type RetryOptions = reconcile.RetryOptions
