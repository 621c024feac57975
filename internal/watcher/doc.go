// Package watcher tracks file system changes under a repository root and
// surfaces them as coalesced batches of FileEvent, filtered against
// .gitignore so the caller never sees churn in ignored paths.
//
// HybridWatcher prefers fsnotify and falls back to a PollWatcher re-walk
// loop when fsnotify can't be initialized (no inotify support, some
// network/container filesystems). Either source feeds the same Coalescer,
// which merges bursts from editor saves and git checkouts into a single
// event per path per debounce window before handing batches to the caller.
//
// Usage:
//
//	opts := watcher.DefaultOptions()
//	w, err := watcher.NewHybridWatcher(opts)
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	if err := w.Start(ctx, "/path/to/project"); err != nil {
//	    return err
//	}
//
//	for batch := range w.Events() {
//	    for _, event := range batch {
//	        switch event.Operation {
//	        case watcher.OpCreate, watcher.OpModify:
//	            // reindex event.Path
//	        case watcher.OpDelete:
//	            // drop event.Path from the index
//	        }
//	    }
//	}
package watcher
