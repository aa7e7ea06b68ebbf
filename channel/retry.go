package channel

// RetryDispatcher attempts to dispatch a single retryable-remove entry,
// returning nil on success, ErrWaitingTlcAck to leave it queued for the
// next scan, or any other error to drop it non-retryably (spec.md §4.5).
// RelayRemoveTlc dispatch is expected to go out via the network actor's
// ControlFiberChannel RPC with a reply port; that RPC lives in the
// node-wide actor (out of scope here), so actor.go supplies it as this
// function value.
type RetryDispatcher func(RetryableRemoveTlc) error

// ScanRetryableRemoves drains the retry FIFO once, dispatching each entry
// in order via dispatch. Entries that fail with ErrWaitingTlcAck are
// requeued at the front in their original relative order so the next scan
// (self-scheduled on a 2-second timer per spec.md §4.5/§6
// AUTO_SETDOWN_TLC_INTERVAL) retries them first.
func (s *ChannelActorState) ScanRetryableRemoves(dispatch RetryDispatcher) {
	pending := s.Tlc.RetryableRemoves
	s.Tlc.RetryableRemoves = nil

	var requeue []RetryableRemoveTlc
	for _, r := range pending {
		err := dispatch(r)
		switch err {
		case nil:
			// Dispatched (or non-retryably dropped, callers signal
			// that by also returning nil — only ErrWaitingTlcAck
			// distinguishes "try again").
		case ErrWaitingTlcAck:
			requeue = append(requeue, r)
		default:
			// Non-retryable error: drop the entry.
		}
	}

	for i := len(requeue) - 1; i >= 0; i-- {
		s.Tlc.RequeueRetryableRemove(requeue[i])
	}
}
