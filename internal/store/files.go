package store

import "github.com/Tyrowin/roomcast/internal/model"

// AddFileShare stores upload metadata. Downloads always start at zero.
func (s *Store) AddFileShare(f model.FileShare) *model.FileShare {
	s.mu.Lock()
	defer s.mu.Unlock()

	f.Downloads = 0
	if f.UploadTime.IsZero() {
		f.UploadTime = s.now()
	}
	s.commit(&addFile{File: f})
	out := *s.doc.FileShares[f.ID]
	return &out
}

// GetFileShare returns a copy of the file metadata.
func (s *Store) GetFileShare(id string) (*model.FileShare, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.doc.FileShares[id]
	if !ok {
		return nil, ErrFileNotFound
	}
	out := *f
	return &out, nil
}

// RecordDownload increments the download counter and returns the new value.
func (s *Store) RecordDownload(id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.doc.FileShares[id]
	if !ok {
		return 0, ErrFileNotFound
	}
	s.commit(&recordDownload{FileID: id})
	return f.Downloads, nil
}
