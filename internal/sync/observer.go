package sync

// RecordOutcome classifies what the engine did with one catalog record.
type RecordOutcome string

const (
	// RecordCreated means a new local record was persisted.
	RecordCreated RecordOutcome = "created"
	// RecordUpdated means an existing local record had fields written.
	RecordUpdated RecordOutcome = "updated"
	// RecordUnchanged means a match was found with nothing to write.
	RecordUnchanged RecordOutcome = "unchanged"
	// RecordFailed means the record was skipped due to a persistence error.
	RecordFailed RecordOutcome = "failed"
)

// Observer receives live progress callbacks during a sync run. Callbacks
// are invoked from the engine's goroutine; implementations must not block.
type Observer interface {
	// PageFetched is called once per successfully fetched page.
	PageFetched(page, records int)
	// RecordProcessed is called once per reconciled record. err is non-nil
	// only when outcome is RecordFailed.
	RecordProcessed(appID string, outcome RecordOutcome, err error)
}

func (e *Engine) notifyRecord(obs Observer, appID string, outcome RecordOutcome, err error) {
	if obs != nil {
		obs.RecordProcessed(appID, outcome, err)
	}
}
