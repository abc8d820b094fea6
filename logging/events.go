package logging

// --- Queue event helpers ---
// Call sites use these so every lifecycle transition logs the same keys.

// TaskCreated logs a new pending task.
func (l *Logger) TaskCreated(taskID, partition, key string) {
	l.Info("task_created", map[string]interface{}{
		"task_id":   taskID,
		"partition": partition,
		"key":       key,
	})
}

// TaskDuplicate logs an idempotent create that found an existing task.
func (l *Logger) TaskDuplicate(partition, key string) {
	l.Debug("task_duplicate", map[string]interface{}{
		"partition": partition,
		"key":       key,
	})
}

// TaskClaimed logs a successful claim.
func (l *Logger) TaskClaimed(lock, partition string, candidates int) {
	l.Info("task_claimed", map[string]interface{}{
		"lock":       lock,
		"partition":  partition,
		"candidates": candidates,
	})
}

// NoTask logs an empty claim window. This is routine polling noise.
func (l *Logger) NoTask(partition string, candidates int) {
	l.Debug("no_task", map[string]interface{}{
		"partition":  partition,
		"candidates": candidates,
	})
}

// ClaimRace logs a rename lost to a concurrent claimant.
func (l *Logger) ClaimRace(key string, err error) {
	fields := map[string]interface{}{"key": key}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Debug("claim_race", fields)
}

// TaskFinalized logs a deleted claimed task.
func (l *Logger) TaskFinalized(lock string, existed bool) {
	l.Info("task_finalized", map[string]interface{}{
		"lock":    lock,
		"existed": existed,
	})
}

// TaskRequeued logs a claimed task returned to pending.
func (l *Logger) TaskRequeued(lock string, existed bool) {
	l.Info("task_requeued", map[string]interface{}{
		"lock":    lock,
		"existed": existed,
	})
}

// ConfirmationChecked logs an oracle lookup.
func (l *Logger) ConfirmationChecked(chatID, authorID string, found bool, segment, strategy string) {
	fields := map[string]interface{}{
		"chat_id":   chatID,
		"author_id": authorID,
		"found":     found,
	}
	if found {
		fields["segment"] = segment
		fields["strategy"] = strategy
	}
	l.Info("confirmation_checked", fields)
}

// WebhookReceived logs a webhook delivery and what became of it.
func (l *Logger) WebhookReceived(account string, accepted bool, reason string) {
	l.Info("webhook_received", map[string]interface{}{
		"account":  account,
		"accepted": accepted,
		"reason":   reason,
	})
}
