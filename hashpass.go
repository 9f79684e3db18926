package torrent

import "context"

// FileRange describes one file's span of piece indices within the
// torrent, and the file's current download priority.
type FileRange struct {
	FirstPiece, LastPiece int
	Downloadable          bool
}

// PendingFiles is consulted by tryHashPendingFiles to discover files whose
// priority was promoted to downloadable since the initial hash-check
// skipped them. Supplying it is optional; torrents that hash everything
// upfront need not set it.
type PendingFiles interface {
	Files() []FileRange
	PieceHashed(index int, unhashed bool)
	IsUnhashed(index int) bool
}

// tryHashPendingFiles opportunistically hashes pieces skipped at initial
// hash-check time because their file was then at "do not download"
// priority (spec §4.6). It is fire-and-forget and guarded by a latch so
// only one pass runs at a time; a second caller arriving while a pass is
// in flight simply returns without starting another.
func (t *Torrent) tryHashPendingFiles(ctx context.Context) {
	mode := t.CurrentMode()
	if mode == nil || t.PendingFiles == nil {
		return
	}
	if !mode.hashingPendingFiles.TryLock() {
		return
	}
	go func() {
		defer mode.hashingPendingFiles.Unlock()
		t.hashPendingFilesPass(ctx, mode)
	}()
}

func (t *Torrent) hashPendingFilesPass(ctx context.Context, mode *Mode) {
	for _, f := range t.PendingFiles.Files() {
		if !f.Downloadable {
			continue
		}
		if !t.PendingFiles.IsUnhashed(f.FirstPiece) && !t.PendingFiles.IsUnhashed(f.LastPiece) {
			continue
		}
		for idx := f.FirstPiece; idx <= f.LastPiece; idx++ {
			if mode.Canceled() {
				return
			}
			if !t.PendingFiles.IsUnhashed(idx) {
				continue
			}
			hash, ok, err := t.Disk.GetHash(ctx, t, idx)
			if err != nil || !ok {
				t.PendingFiles.PieceHashed(idx, true)
				continue
			}
			passed := idx < len(t.Hashes) && hash.Equal(t.Hashes[idx])
			t.PendingFiles.PieceHashed(idx, !passed)
			if passed {
				t.MarkOwned(idx)
				t.EnqueueFinishedPiece(idx)
			}
		}
	}
}
