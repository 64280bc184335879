package variables

// OnRefresh registers fn to run after the variable list changes. Callbacks run
// on a dedicated goroutine and may call back into the bridge.
func (b *Bridge) OnRefresh(fn func()) func() {
	b.listenersMu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.listenersMu.Unlock()
	return func() {
		b.listenersMu.Lock()
		delete(b.listeners, id)
		b.listenersMu.Unlock()
	}
}

func (b *Bridge) fireRefresh() {
	select {
	case b.refresh <- struct{}{}:
	default:
	}
}

func (b *Bridge) snapshotListeners() []func() {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	fns := make([]func(), 0, len(b.listeners))
	for i := 0; i < b.nextID; i++ {
		if fn, ok := b.listeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	return fns
}

// notifyLoop coalesces refresh signals. With a debounce, listeners run once
// the signals have been quiet for the debounce period.
func (b *Bridge) notifyLoop() {
	defer close(b.notifier)
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-b.refresh:
		}

		if b.debounce > 0 {
			timer := b.clock.Timer(b.debounce)
		quiet:
			for {
				select {
				case <-b.refresh:
					timer.Reset(b.debounce)
				case <-timer.C:
					break quiet
				case <-b.ctx.Done():
					timer.Stop()
					return
				}
			}
		}

		for _, fn := range b.snapshotListeners() {
			fn()
		}
	}
}
