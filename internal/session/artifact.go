package session

import (
	"bytes"
	"log/slog"
	"time"

	"github.com/skypro1111/ws-audio-echo/internal/audio"
	"github.com/skypro1111/ws-audio-echo/internal/decode"
	"github.com/skypro1111/ws-audio-echo/internal/events"
	"github.com/skypro1111/ws-audio-echo/internal/storage"
)

// artifactJob is one utterance ready to be written. The container is built
// on the session goroutine; storage and decoding run in the background.
type artifactJob struct {
	sessionID string
	peer      string
	packets   int

	name string
	data []byte

	wavName string
	wav     []byte
}

func (s *Session) submitArtifacts(packets [][]byte) {
	now := time.Now()
	job := artifactJob{sessionID: s.ID, peer: s.Peer, packets: len(packets)}

	switch s.registry.opts.RecordingFormat {
	case FormatRaw:
		job.name = storage.ArtifactName(now, s.Peer, storage.ExtRaw)
		job.data = bytes.Join(packets, nil)

	default:
		s.encoder.Reset()
		data, err := s.encoder.Encode(packets)
		if err != nil {
			s.publishError(events.ErrorPersist, err)
			return
		}
		job.name = storage.ArtifactName(now, s.Peer, storage.ExtOpus)
		job.data = data
	}

	if s.decoder != nil && s.pcm.Len() > 0 {
		cfg := s.registry.opts.Ogg
		wav, err := audio.EncodeWAV(s.pcm.Bytes(), cfg.SampleRate, cfg.Channels)
		if err != nil {
			s.publishError(events.ErrorPersist, err)
		} else {
			job.wavName = storage.ArtifactName(now, s.Peer, storage.ExtWAV)
			job.wav = wav
		}
	}

	s.registry.submit(job)
}

// submit runs job in the background unless the registry is stopping
func (r *Registry) submit(job artifactJob) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		r.logger.Warn("Dropping artifact at shutdown",
			slog.String("session_id", job.sessionID),
			slog.String("name", job.name),
		)
		return
	}
	r.jobs.Add(1)
	r.mu.RUnlock()

	r.pendingJobs.Add(1)
	go func() {
		defer r.jobs.Done()
		defer r.pendingJobs.Add(-1)
		r.persist(job)
	}()
}

func (r *Registry) persist(job artifactJob) {
	publish := func(e events.Event) {
		e.SessionID = job.sessionID
		e.Peer = job.peer
		e.Time = time.Now()
		r.sink.Publish(e)
	}

	location, err := r.store.Save(r.ctx, job.name, job.data)
	if err != nil {
		class := events.ErrorPersist
		if r.strategy.Mode() == decode.ModeOffline {
			err = &decode.OfflineError{Reason: decode.ReasonWrite, Input: job.name, Err: err}
			class = events.ErrorOfflineDecode
		}
		publish(events.Event{Kind: events.KindError, ErrorClass: class, Err: err})
		return
	}

	publish(events.Event{
		Kind:    events.KindPersisted,
		Path:    location,
		Packets: job.packets,
		Bytes:   len(job.data),
	})

	if job.wav != nil {
		wavPath, err := r.store.Save(r.ctx, job.wavName, job.wav)
		if err != nil {
			publish(events.Event{Kind: events.KindError, ErrorClass: events.ErrorPersist, Err: err})
		} else {
			publish(events.Event{Kind: events.KindDecoded, Path: wavPath, Bytes: len(job.wav)})
		}
	}

	if offline := r.strategy.Offline(); offline != nil {
		start := time.Now()
		output, err := offline.DecodeFile(r.ctx, location)
		if err != nil {
			publish(events.Event{
				Kind:       events.KindError,
				ErrorClass: events.ErrorOfflineDecode,
				Err:        err,
				Duration:   time.Since(start),
			})
			return
		}
		publish(events.Event{Kind: events.KindDecoded, Path: output, Duration: time.Since(start)})
	}
}
