package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	commonredis "github.com/CJButlers/RXhale/common/redis"
	"github.com/CJButlers/RXhale/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Change kinds written to the changes stream.
const (
	ChangeCreated = "created"
	ChangeVitals  = "vitals"
	ChangeSymptom = "symptom"
	ChangeNotes   = "notes"
)

// RedisOptions tunes the Redis adapter.
type RedisOptions struct {
	KeyPrefix     string        // default "rxhale:"
	ChangesMaxLen int64         // approximate cap of the changes stream
	PollBlock     time.Duration // XREAD BLOCK per poll; subscriptions check ctx between polls
	BatchSize     int64
	Buffer        int
}

func (o *RedisOptions) withDefaults() RedisOptions {
	out := RedisOptions{}
	if o != nil {
		out = *o
	}
	if out.KeyPrefix == "" {
		out.KeyPrefix = "rxhale:"
	}
	if out.ChangesMaxLen <= 0 {
		out.ChangesMaxLen = 100000
	}
	if out.PollBlock <= 0 {
		out.PollBlock = time.Second
	}
	if out.BatchSize <= 0 {
		out.BatchSize = 100
	}
	if out.Buffer <= 0 {
		out.Buffer = 16
	}
	return out
}

// Layout:
//
//	{prefix}patients               SET of ids
//	{prefix}patient:{id}           JSON document without notes, symptoms and vitals
//	{prefix}patient:{id}:notes     STRING
//	{prefix}patient:{id}:vitals    LIST of JSON readings
//	{prefix}patient:{id}:symptoms  LIST of JSON symptom logs
//	{prefix}changes                STREAM, one entry per accepted mutation
//
// Scripts make each mutation and its change entry atomic.

// KEYS: doc, notes, index, changes, vitals, symptoms.
// ARGV: id, json, notes, maxlen, vitals count, vitals..., symptoms...
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return redis.error_reply('patient exists')
end
redis.call('SET', KEYS[1], ARGV[2])
redis.call('SET', KEYS[2], ARGV[3])
redis.call('SADD', KEYS[3], ARGV[1])
local nv = tonumber(ARGV[5])
for i = 6, 5 + nv do
  redis.call('RPUSH', KEYS[5], ARGV[i])
end
for i = 6 + nv, #ARGV do
  redis.call('RPUSH', KEYS[6], ARGV[i])
end
redis.call('XADD', KEYS[4], 'MAXLEN', '~', ARGV[4], '*',
  'patient_id', ARGV[1], 'kind', 'created',
  'vitals_len', tostring(nv), 'symptoms_len', tostring(#ARGV - 5 - nv))
return 1
`)

// KEYS: doc, target list, other list, changes. ARGV: id, json, kind, maxlen.
var appendScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local n = redis.call('RPUSH', KEYS[2], ARGV[2])
local other = redis.call('LLEN', KEYS[3])
local vl, sl = n, other
if ARGV[3] ~= 'vitals' then
  vl, sl = other, n
end
redis.call('XADD', KEYS[4], 'MAXLEN', '~', ARGV[4], '*',
  'patient_id', ARGV[1], 'kind', ARGV[3], 'vitals_len', tostring(vl), 'symptoms_len', tostring(sl))
return n
`)

// KEYS: doc, notes, vitals, symptoms, changes. ARGV: id, notes, maxlen.
var notesScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
redis.call('SET', KEYS[2], ARGV[2])
redis.call('XADD', KEYS[5], 'MAXLEN', '~', ARGV[3], '*',
  'patient_id', ARGV[1], 'kind', 'notes',
  'vitals_len', tostring(redis.call('LLEN', KEYS[3])),
  'symptoms_len', tostring(redis.call('LLEN', KEYS[4])))
return 1
`)

// RedisStore keeps patient documents in Redis.
type RedisStore struct {
	client *redis.Client
	opts   RedisOptions
	logger *zap.Logger
	now    func() time.Time
}

// NewRedisStore creates the adapter. opts may be nil.
func NewRedisStore(client *redis.Client, opts *RedisOptions, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		opts:   opts.withDefaults(),
		logger: logger,
		now:    time.Now,
	}
}

func (s *RedisStore) indexKey() string   { return s.opts.KeyPrefix + "patients" }
func (s *RedisStore) changesKey() string { return s.opts.KeyPrefix + "changes" }
func (s *RedisStore) docKey(id string) string {
	return s.opts.KeyPrefix + "patient:" + id
}
func (s *RedisStore) notesKey(id string) string    { return s.docKey(id) + ":notes" }
func (s *RedisStore) vitalsKey(id string) string   { return s.docKey(id) + ":vitals" }
func (s *RedisStore) symptomsKey(id string) string { return s.docKey(id) + ":symptoms" }

// CreatePatient stores rec under a new id.
func (s *RedisStore) CreatePatient(ctx context.Context, rec *models.PatientRecord) (string, error) {
	doc := rec.Clone()
	doc.ID = uuid.NewString()
	doc.CreatedAt = s.now().UTC()
	notes := doc.Notes
	doc.Notes, doc.Symptoms, doc.Vitals = "", nil, nil

	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal patient: %w", err)
	}

	// seed vitals and symptoms go in with the document
	args := []interface{}{doc.ID, string(data), notes, s.opts.ChangesMaxLen, len(rec.Vitals)}
	for _, r := range rec.Vitals {
		item, err := json.Marshal(r)
		if err != nil {
			return "", fmt.Errorf("failed to marshal reading: %w", err)
		}
		args = append(args, string(item))
	}
	for _, l := range rec.Symptoms {
		item, err := json.Marshal(l)
		if err != nil {
			return "", fmt.Errorf("failed to marshal symptom: %w", err)
		}
		args = append(args, string(item))
	}

	keys := []string{
		s.docKey(doc.ID), s.notesKey(doc.ID), s.indexKey(), s.changesKey(),
		s.vitalsKey(doc.ID), s.symptomsKey(doc.ID),
	}
	if err := createScript.Run(ctx, s.client, keys, args...).Err(); err != nil {
		return "", fmt.Errorf("failed to create patient: %w", err)
	}
	return doc.ID, nil
}

// GetPatient reads the whole document in one transaction.
func (s *RedisStore) GetPatient(ctx context.Context, id string) (*models.PatientRecord, error) {
	return s.readPatient(ctx, id, -1, -1)
}

// ListPatients returns every document ordered by last name.
func (s *RedisStore) ListPatients(ctx context.Context) ([]models.PatientRecord, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}

	out := make([]models.PatientRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetPatient(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	SortPatients(out)
	return out, nil
}

// AppendVitals appends r atomically with its change entry.
func (s *RedisStore) AppendVitals(ctx context.Context, id string, r models.VitalsReading) (int, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal reading: %w", err)
	}
	return s.appendItem(ctx, id, ChangeVitals, s.vitalsKey(id), s.symptomsKey(id), data)
}

// AppendSymptom appends l atomically with its change entry.
func (s *RedisStore) AppendSymptom(ctx context.Context, id string, l models.SymptomLog) (int, error) {
	data, err := json.Marshal(l)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal symptom: %w", err)
	}
	return s.appendItem(ctx, id, ChangeSymptom, s.symptomsKey(id), s.vitalsKey(id), data)
}

func (s *RedisStore) appendItem(ctx context.Context, id, kind, target, other string, data []byte) (int, error) {
	keys := []string{s.docKey(id), target, other, s.changesKey()}
	n, err := appendScript.Run(ctx, s.client, keys, id, string(data), kind, s.opts.ChangesMaxLen).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to append %s: %w", kind, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("patient %s: %w", id, ErrNotFound)
	}
	return int(n), nil
}

// UpdateNotes replaces the notes field.
func (s *RedisStore) UpdateNotes(ctx context.Context, id string, notes string) error {
	keys := []string{s.docKey(id), s.notesKey(id), s.vitalsKey(id), s.symptomsKey(id), s.changesKey()}
	n, err := notesScript.Run(ctx, s.client, keys, id, notes, s.opts.ChangesMaxLen).Int64()
	if err != nil {
		return fmt.Errorf("failed to update notes: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("patient %s: %w", id, ErrNotFound)
	}
	return nil
}

// readPatient loads the document with the first vitalsLen readings and
// symptomsLen symptoms; -1 reads the whole list.
func (s *RedisStore) readPatient(ctx context.Context, id string, vitalsLen, symptomsLen int64) (*models.PatientRecord, error) {
	var (
		docCmd      *redis.StringCmd
		notesCmd    *redis.StringCmd
		vitalsCmd   *redis.StringSliceCmd
		symptomsCmd *redis.StringSliceCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		docCmd = pipe.Get(ctx, s.docKey(id))
		notesCmd = pipe.Get(ctx, s.notesKey(id))
		if vitalsLen != 0 {
			vitalsCmd = pipe.LRange(ctx, s.vitalsKey(id), 0, listStop(vitalsLen))
		}
		if symptomsLen != 0 {
			symptomsCmd = pipe.LRange(ctx, s.symptomsKey(id), 0, listStop(symptomsLen))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read patient %s: %w", id, err)
	}

	raw, err := docCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("patient %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read patient %s: %w", id, err)
	}

	var rec models.PatientRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal patient %s: %w", id, err)
	}
	rec.Notes = notesCmd.Val()
	rec.Vitals = []models.VitalsReading{}
	rec.Symptoms = []models.SymptomLog{}

	if vitalsCmd != nil {
		for _, item := range vitalsCmd.Val() {
			var r models.VitalsReading
			if err := json.Unmarshal([]byte(item), &r); err != nil {
				return nil, fmt.Errorf("failed to unmarshal reading for %s: %w", id, err)
			}
			rec.Vitals = append(rec.Vitals, r)
		}
	}
	if symptomsCmd != nil {
		for _, item := range symptomsCmd.Val() {
			var l models.SymptomLog
			if err := json.Unmarshal([]byte(item), &l); err != nil {
				return nil, fmt.Errorf("failed to unmarshal symptom for %s: %w", id, err)
			}
			rec.Symptoms = append(rec.Symptoms, l)
		}
	}
	return &rec, nil
}

// listStop is the inclusive LRANGE stop for the first n items; n < 0 means
// the whole list.
func listStop(n int64) int64 {
	if n < 0 {
		return -1
	}
	return n - 1
}

// change is one decoded entry of the changes stream.
type change struct {
	id          string
	patientID   string
	kind        string
	vitalsLen   int64
	symptomsLen int64
}

func decodeChange(msg commonredis.StreamMessage) (change, error) {
	c := change{
		id:        msg.ID,
		patientID: msg.String("patient_id"),
		kind:      msg.String("kind"),
	}
	if c.patientID == "" {
		return c, fmt.Errorf("stream message %s: missing patient_id", msg.ID)
	}
	var err error
	if c.vitalsLen, err = msg.Int64("vitals_len"); err != nil {
		return c, err
	}
	if c.symptomsLen, err = msg.Int64("symptoms_len"); err != nil {
		return c, err
	}
	return c, nil
}

// reflected reports whether rec already contains the state c describes.
// Notes changes carry no version, so they never count as reflected.
func (c change) reflected(rec *models.PatientRecord) bool {
	if rec == nil || c.kind == ChangeNotes {
		return false
	}
	return int64(len(rec.Vitals)) >= c.vitalsLen && int64(len(rec.Symptoms)) >= c.symptomsLen
}

// tail follows the changes stream after lastID and hands every entry to fn
// until ctx ends or fn returns false.
func (s *RedisStore) tail(ctx context.Context, lastID string, fn func(change) (bool, error)) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := commonredis.TailStream(ctx, s.client, s.changesKey(), lastID, s.opts.BatchSize, s.opts.PollBlock)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read changes: %w", err)
		}
		for _, msg := range msgs {
			lastID = msg.ID
			c, err := decodeChange(msg)
			if err != nil {
				s.logger.Warn("Skipping malformed change entry", zap.String("id", msg.ID), zap.Error(err))
				continue
			}
			cont, err := fn(c)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
	}
}

// SubscribePatient streams snapshots of one document: the current state,
// then one snapshot per later change, each rebuilt at that change's version.
func (s *RedisStore) SubscribePatient(ctx context.Context, id string) (*Subscription[PatientSnapshot], error) {
	lastID, err := commonredis.LastStreamID(ctx, s.client, s.changesKey())
	if err != nil {
		return nil, fmt.Errorf("failed to read changes position: %w", err)
	}
	current, err := s.GetPatient(ctx, id)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := newSubscription[PatientSnapshot](s.opts.Buffer, cancel)

	go func() {
		defer cancel()
		if !sub.send(PatientSnapshot{Patient: current}) {
			sub.finish(nil)
			return
		}
		err := s.tail(subCtx, lastID, func(c change) (bool, error) {
			if c.patientID != id || c.reflected(current) {
				return true, nil
			}
			rec, err := s.readPatient(subCtx, id, c.vitalsLen, c.symptomsLen)
			if errors.Is(err, ErrNotFound) {
				sub.send(PatientSnapshot{Deleted: true})
				return false, nil
			}
			if err != nil {
				return false, err
			}
			current = rec
			return sub.send(PatientSnapshot{Patient: rec}), nil
		})
		if err != nil {
			s.logger.Error("Patient subscription failed", zap.String("patient_id", id), zap.Error(err))
		}
		sub.finish(err)
	}()
	return sub, nil
}

// SubscribeCollection streams the roster, re-emitted in full on every change.
func (s *RedisStore) SubscribeCollection(ctx context.Context) (*Subscription[[]models.PatientRecord], error) {
	lastID, err := commonredis.LastStreamID(ctx, s.client, s.changesKey())
	if err != nil {
		return nil, fmt.Errorf("failed to read changes position: %w", err)
	}
	initial, err := s.ListPatients(ctx)
	if err != nil {
		return nil, err
	}

	cache := make(map[string]*models.PatientRecord, len(initial))
	for i := range initial {
		cache[initial[i].ID] = initial[i].Clone()
	}
	roster := func() []models.PatientRecord {
		out := make([]models.PatientRecord, 0, len(cache))
		for _, rec := range cache {
			out = append(out, *rec.Clone())
		}
		SortPatients(out)
		return out
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := newSubscription[[]models.PatientRecord](s.opts.Buffer, cancel)

	go func() {
		defer cancel()
		if !sub.send(initial) {
			sub.finish(nil)
			return
		}
		err := s.tail(subCtx, lastID, func(c change) (bool, error) {
			if c.reflected(cache[c.patientID]) {
				return true, nil
			}
			rec, err := s.readPatient(subCtx, c.patientID, c.vitalsLen, c.symptomsLen)
			switch {
			case errors.Is(err, ErrNotFound):
				delete(cache, c.patientID)
			case err != nil:
				return false, err
			default:
				cache[c.patientID] = rec
			}
			return sub.send(roster()), nil
		})
		if err != nil {
			s.logger.Error("Roster subscription failed", zap.Error(err))
		}
		sub.finish(err)
	}()
	return sub, nil
}
