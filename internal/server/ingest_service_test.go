package server

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"recink/internal/blobstore"
	"recink/internal/config"
	"recink/internal/models"
	"recink/internal/store"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type serviceFixture struct {
	svc     *IngestService
	store   *store.Store
	clock   *fakeClock
	casRoot string
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	casRoot := t.TempDir()
	cas, err := blobstore.NewLocalCAS(casRoot)
	if err != nil {
		t.Fatalf("new cas: %v", err)
	}

	svc := NewIngestService(st, cas, config.Default().Uploads)
	clock := &fakeClock{now: time.Now().UTC().Truncate(time.Millisecond)}
	svc.now = clock.Now

	return &serviceFixture{svc: svc, store: st, clock: clock, casRoot: casRoot}
}

func (f *serviceFixture) presign(t *testing.T, batchID string, contentTypes ...string) *PresignResult {
	t.Helper()
	in := PresignInput{BatchID: batchID}
	for _, ct := range contentTypes {
		in.Items = append(in.Items, PresignItemInput{ContentType: ct})
	}
	result, err := f.svc.IssuePresign(context.Background(), in)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	return result
}

func (f *serviceFixture) upload(t *testing.T, slot PresignedSlot, contentType, body string) *models.UploadSlot {
	t.Helper()
	updated, err := f.svc.ReceiveUpload(context.Background(), slot.Slot.UploadID, slot.Token, contentType, strings.NewReader(body))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return updated
}

func (f *serviceFixture) batchStatus(t *testing.T, batchID string) models.BatchStatus {
	t.Helper()
	view, err := f.svc.GetBatch(context.Background(), batchID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	return view.Status
}

func assertAPIError(t *testing.T, err error, wantStatus int, wantCode string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with status %d, got nil", wantStatus)
	}
	status := httpStatusFromError(err)
	if status != wantStatus {
		t.Fatalf("expected status %d, got %d (%v)", wantStatus, status, err)
	}
	if code := errorCode(status, err); code != wantCode {
		t.Fatalf("expected code %q, got %q (%v)", wantCode, code, err)
	}
}

func TestIssuePresignCreatesBatch(t *testing.T) {
	f := newServiceFixture(t)

	result := f.presign(t, "", "audio/wav", "audio/mpeg")

	if !strings.HasPrefix(result.Batch.ID, "rb_") {
		t.Fatalf("unexpected batch id %q", result.Batch.ID)
	}
	if result.ExpiresIn != config.DefaultPresignTTLSeconds {
		t.Fatalf("expected ttl %d, got %d", config.DefaultPresignTTLSeconds, result.ExpiresIn)
	}
	if len(result.Slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(result.Slots))
	}

	seen := map[string]struct{}{}
	for _, slot := range result.Slots {
		if slot.Token == "" {
			t.Fatal("expected a token for each slot")
		}
		if _, dup := seen[slot.Token]; dup {
			t.Fatal("tokens must be unique per slot")
		}
		seen[slot.Token] = struct{}{}

		if !strings.Contains(slot.UploadURL, slot.Slot.UploadID) || !strings.Contains(slot.UploadURL, "token=") {
			t.Fatalf("unexpected upload url %q", slot.UploadURL)
		}
		if slot.Slot.TokenHash == slot.Token {
			t.Fatal("stored hash must not equal the token")
		}
	}

	if got := f.batchStatus(t, result.Batch.ID); got != models.BatchStatusOpen {
		t.Fatalf("expected open batch, got %s", got)
	}
}

func TestIssuePresignValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.IssuePresign(ctx, PresignInput{})
	assertAPIError(t, err, http.StatusBadRequest, "invalid_argument")

	tooMany := PresignInput{}
	for i := 0; i < config.DefaultPresignMaxItems+1; i++ {
		tooMany.Items = append(tooMany.Items, PresignItemInput{ContentType: "audio/wav"})
	}
	_, err = f.svc.IssuePresign(ctx, tooMany)
	assertAPIError(t, err, http.StatusBadRequest, "invalid_argument")

	_, err = f.svc.IssuePresign(ctx, PresignInput{
		BatchID: "not-a-batch-id",
		Items:   []PresignItemInput{{ContentType: "audio/wav"}},
	})
	assertAPIError(t, err, http.StatusBadRequest, "invalid_argument")

	_, err = f.svc.IssuePresign(ctx, PresignInput{
		BatchID: store.NewBatchID(),
		Items:   []PresignItemInput{{ContentType: "audio/wav"}},
	})
	assertAPIError(t, err, http.StatusNotFound, "batch_not_found")
}

func TestIssuePresignAdditive(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	first := f.presign(t, "", "audio/wav")
	f.upload(t, first.Slots[0], "audio/wav", "take one")

	second := f.presign(t, first.Batch.ID, "audio/wav")
	if second.Batch.ID != first.Batch.ID {
		t.Fatalf("expected same batch, got %s", second.Batch.ID)
	}

	slots, err := f.store.ListSlotsByBatch(ctx, first.Batch.ID)
	if err != nil {
		t.Fatalf("list slots: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots after re-presign, got %d", len(slots))
	}

	// The earlier fulfilled slot is untouched.
	fulfilled := 0
	for _, slot := range slots {
		if slot.State == models.SlotStateFulfilled {
			fulfilled++
		}
	}
	if fulfilled != 1 {
		t.Fatalf("expected 1 fulfilled slot, got %d", fulfilled)
	}
}

func TestReceiveUpload(t *testing.T) {
	f := newServiceFixture(t)

	result := f.presign(t, "", "audio/wav")
	body := "pcm audio bytes"
	slot := f.upload(t, result.Slots[0], "audio/wav", body)

	if slot.State != models.SlotStateFulfilled {
		t.Fatalf("expected fulfilled, got %s", slot.State)
	}
	sum := sha256.Sum256([]byte(body))
	wantRef := models.BlobRefFromDigest(hex.EncodeToString(sum[:]))
	if slot.BlobRef != wantRef {
		t.Fatalf("expected blob ref %s, got %s", wantRef, slot.BlobRef)
	}
	if slot.SizeBytes != int64(len(body)) {
		t.Fatalf("expected size %d, got %d", len(body), slot.SizeBytes)
	}

	if got := f.batchStatus(t, result.Batch.ID); got != models.BatchStatusPartiallyFulfilled {
		t.Fatalf("expected partially_fulfilled after upload, got %s", got)
	}
}

func TestReceiveUploadWrongToken(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	result := f.presign(t, "", "audio/wav")
	slot := result.Slots[0]

	_, err := f.svc.ReceiveUpload(ctx, slot.Slot.UploadID, "bogus-token", "audio/wav", strings.NewReader("x"))
	assertAPIError(t, err, http.StatusUnauthorized, "invalid_upload_token")

	_, err = f.svc.ReceiveUpload(ctx, slot.Slot.UploadID, "", "audio/wav", strings.NewReader("x"))
	assertAPIError(t, err, http.StatusUnauthorized, "invalid_upload_token")

	// An unknown upload id is indistinguishable from a bad token.
	_, err = f.svc.ReceiveUpload(ctx, store.NewUploadID(), slot.Token, "audio/wav", strings.NewReader("x"))
	assertAPIError(t, err, http.StatusUnauthorized, "invalid_upload_token")

	// The failed attempts leave the slot pending.
	current, storeErr := f.store.GetSlot(ctx, slot.Slot.UploadID)
	if storeErr != nil {
		t.Fatalf("get slot: %v", storeErr)
	}
	if current.State != models.SlotStatePending {
		t.Fatalf("expected pending, got %s", current.State)
	}
}

func TestReceiveUploadExpiredToken(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	result := f.presign(t, "", "audio/wav")
	slot := result.Slots[0]

	f.clock.Advance(time.Duration(config.DefaultPresignTTLSeconds+1) * time.Second)

	_, err := f.svc.ReceiveUpload(ctx, slot.Slot.UploadID, slot.Token, "audio/wav", strings.NewReader("late"))
	assertAPIError(t, err, http.StatusGone, "upload_token_expired")

	// Lazy expiry flipped the slot.
	current, storeErr := f.store.GetSlot(ctx, slot.Slot.UploadID)
	if storeErr != nil {
		t.Fatalf("get slot: %v", storeErr)
	}
	if current.State != models.SlotStateExpired {
		t.Fatalf("expected expired, got %s", current.State)
	}

	// Retrying after expiry reports the same failure.
	_, err = f.svc.ReceiveUpload(ctx, slot.Slot.UploadID, slot.Token, "audio/wav", strings.NewReader("late"))
	assertAPIError(t, err, http.StatusGone, "upload_token_expired")
}

func TestReceiveUploadContentTypeMismatch(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	result := f.presign(t, "", "audio/wav")
	slot := result.Slots[0]

	_, err := f.svc.ReceiveUpload(ctx, slot.Slot.UploadID, slot.Token, "audio/mpeg", strings.NewReader("x"))
	assertAPIError(t, err, http.StatusBadRequest, "content_type_mismatch")

	// Parameters and casing do not count as mismatches.
	updated, err := f.svc.ReceiveUpload(ctx, slot.Slot.UploadID, slot.Token, "Audio/WAV; rate=16000", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("upload with parameterized type: %v", err)
	}
	if updated.State != models.SlotStateFulfilled {
		t.Fatalf("expected fulfilled, got %s", updated.State)
	}
}

func TestReceiveUploadTwice(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	result := f.presign(t, "", "audio/wav")
	slot := result.Slots[0]
	f.upload(t, slot, "audio/wav", "first")

	_, err := f.svc.ReceiveUpload(ctx, slot.Slot.UploadID, slot.Token, "audio/wav", strings.NewReader("second"))
	assertAPIError(t, err, http.StatusConflict, "slot_already_fulfilled")
}

func TestUploadDedupesIdenticalContent(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	result := f.presign(t, "", "audio/wav", "audio/wav")
	first := f.upload(t, result.Slots[0], "audio/wav", "same bytes")
	second := f.upload(t, result.Slots[1], "audio/wav", "same bytes")

	if first.BlobRef != second.BlobRef {
		t.Fatalf("expected identical refs, got %s and %s", first.BlobRef, second.BlobRef)
	}

	blobs, err := f.store.ListBlobs(ctx)
	if err != nil {
		t.Fatalf("list blobs: %v", err)
	}
	if len(blobs) != 1 {
		t.Fatalf("expected one stored blob, got %d", len(blobs))
	}
}

func TestRegisterRecordingsLifecycle(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	result := f.presign(t, "", "audio/wav", "audio/wav")
	first := f.upload(t, result.Slots[0], "audio/wav", "take one")
	second := f.upload(t, result.Slots[1], "audio/wav", "take two")

	if got := f.batchStatus(t, result.Batch.ID); got != models.BatchStatusPartiallyFulfilled {
		t.Fatalf("expected partially_fulfilled before registration, got %s", got)
	}

	partial, err := f.svc.RegisterRecordings(ctx, RegisterInput{
		BatchID: result.Batch.ID,
		Items: []RegisterItemInput{
			{ClientItemID: "take-1", BlobRef: first.BlobRef, Metadata: map[string]any{"speaker": "alice"}},
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if partial.Status != models.BatchStatusPartiallyFulfilled {
		t.Fatalf("expected partially_fulfilled in registration result, got %s", partial.Status)
	}

	registered, err := f.svc.RegisterRecordings(ctx, RegisterInput{
		BatchID: result.Batch.ID,
		Items: []RegisterItemInput{
			{ClientItemID: "take-2", BlobRef: second.BlobRef},
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if registered.Replayed {
		t.Fatal("registration must not be a replay")
	}
	if len(registered.Recordings) != 1 {
		t.Fatalf("expected 1 recording, got %d", len(registered.Recordings))
	}
	for _, rec := range append(partial.Recordings, registered.Recordings...) {
		if !strings.HasPrefix(rec.ID, "rec_") {
			t.Fatalf("unexpected recording id %q", rec.ID)
		}
	}

	if registered.Status != models.BatchStatusComplete {
		t.Fatalf("expected complete in registration result, got %s", registered.Status)
	}
	if got := f.batchStatus(t, result.Batch.ID); got != models.BatchStatusComplete {
		t.Fatalf("expected complete after registration, got %s", got)
	}
}

func TestRegisterRecordingsIdempotentReplay(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	result := f.presign(t, "", "audio/wav")
	slot := f.upload(t, result.Slots[0], "audio/wav", "bytes")

	in := RegisterInput{
		BatchID:        result.Batch.ID,
		IdempotencyKey: "retry-key-1",
		Items:          []RegisterItemInput{{BlobRef: slot.BlobRef}},
	}

	first, err := f.svc.RegisterRecordings(ctx, in)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if first.Status != models.BatchStatusComplete {
		t.Fatalf("expected complete, got %s", first.Status)
	}

	replay, err := f.svc.RegisterRecordings(ctx, in)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replay.Replayed {
		t.Fatal("expected replay marker")
	}
	if replay.Status != models.BatchStatusComplete {
		t.Fatalf("expected complete on replay, got %s", replay.Status)
	}
	if len(replay.Recordings) != 1 || replay.Recordings[0].ID != first.Recordings[0].ID {
		t.Fatalf("expected identical recordings, got %#v", replay.Recordings)
	}

	// No duplicate rows were written.
	listed, listErr := f.store.ListRecordingsByBatch(ctx, result.Batch.ID)
	if listErr != nil {
		t.Fatalf("list recordings: %v", listErr)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 recording, got %d", len(listed))
	}

	// Same key with a different payload is a conflict.
	in.Items[0].Metadata = map[string]any{"changed": true}
	_, err = f.svc.RegisterRecordings(ctx, in)
	assertAPIError(t, err, http.StatusConflict, "idempotency_mismatch")
}

func TestRegisterRecordingsLinkageErrors(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	result := f.presign(t, "", "audio/wav")
	slot := f.upload(t, result.Slots[0], "audio/wav", "owned bytes")

	unknownRef := models.BlobRefFromDigest(strings.Repeat("9", 64))
	_, err := f.svc.RegisterRecordings(ctx, RegisterInput{
		BatchID: result.Batch.ID,
		Items:   []RegisterItemInput{{BlobRef: unknownRef}},
	})
	assertAPIError(t, err, http.StatusConflict, "blob_not_found")

	// A blob fulfilled under another batch cannot be registered here.
	other := f.presign(t, "", "audio/wav")
	_, err = f.svc.RegisterRecordings(ctx, RegisterInput{
		BatchID: other.Batch.ID,
		Items:   []RegisterItemInput{{BlobRef: slot.BlobRef}},
	})
	assertAPIError(t, err, http.StatusConflict, "blob_not_linked")

	_, err = f.svc.RegisterRecordings(ctx, RegisterInput{
		BatchID: store.NewBatchID(),
		Items:   []RegisterItemInput{{BlobRef: slot.BlobRef}},
	})
	assertAPIError(t, err, http.StatusNotFound, "batch_not_found")

	_, err = f.svc.RegisterRecordings(ctx, RegisterInput{
		BatchID: result.Batch.ID,
		Items:   []RegisterItemInput{{BlobRef: "not-a-ref"}},
	})
	assertAPIError(t, err, http.StatusBadRequest, "invalid_argument")
}

func TestExpiredSlotBlocksComplete(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	result := f.presign(t, "", "audio/wav", "audio/wav")
	slot := f.upload(t, result.Slots[0], "audio/wav", "only upload")

	f.clock.Advance(time.Duration(config.DefaultPresignTTLSeconds+1) * time.Second)

	// The second slot lapses on its next touch.
	_, err := f.svc.ReceiveUpload(ctx, result.Slots[1].Slot.UploadID, result.Slots[1].Token, "audio/wav", strings.NewReader("late"))
	assertAPIError(t, err, http.StatusGone, "upload_token_expired")

	if _, err := f.svc.RegisterRecordings(ctx, RegisterInput{
		BatchID: result.Batch.ID,
		Items:   []RegisterItemInput{{BlobRef: slot.BlobRef}},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if got := f.batchStatus(t, result.Batch.ID); got != models.BatchStatusPartiallyFulfilled {
		t.Fatalf("expected expired slot to hold status at partially_fulfilled, got %s", got)
	}
}

func TestOpenRecordingMedia(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	result := f.presign(t, "", "audio/wav")
	slot := f.upload(t, result.Slots[0], "audio/wav", "media payload")

	registered, err := f.svc.RegisterRecordings(ctx, RegisterInput{
		BatchID: result.Batch.ID,
		Items:   []RegisterItemInput{{BlobRef: slot.BlobRef}},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	content, err := f.svc.OpenRecordingMedia(ctx, registered.Recordings[0].ID)
	if err != nil {
		t.Fatalf("open media: %v", err)
	}
	defer content.Reader.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(content.Reader); err != nil {
		t.Fatalf("read media: %v", err)
	}
	if buf.String() != "media payload" {
		t.Fatalf("unexpected media %q", buf.String())
	}
	if content.ContentType != "audio/wav" {
		t.Fatalf("expected audio/wav, got %s", content.ContentType)
	}

	_, err = f.svc.OpenRecordingMedia(ctx, store.NewRecordingID())
	assertAPIError(t, err, http.StatusNotFound, "not_found")
}

func TestDeleteBatchGarbageCollects(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	result := f.presign(t, "", "audio/wav")
	slot := f.upload(t, result.Slots[0], "audio/wav", "doomed bytes")

	blob, err := f.store.GetBlob(ctx, slot.BlobRef)
	if err != nil || blob == nil {
		t.Fatalf("get blob: %v %#v", err, blob)
	}

	removed, err := f.svc.DeleteBatch(ctx, result.Batch.ID)
	if err != nil {
		t.Fatalf("delete batch: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed blob, got %d", removed)
	}

	if _, err := os.Stat(filepath.Join(f.casRoot, filepath.FromSlash(blob.BlobKey))); !os.IsNotExist(err) {
		t.Fatalf("expected blob file to be gone, stat err %v", err)
	}

	_, err = f.svc.GetBatch(ctx, result.Batch.ID)
	assertAPIError(t, err, http.StatusNotFound, "batch_not_found")
}

func TestDeleteBatchKeepsSharedBlobs(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	first := f.presign(t, "", "audio/wav")
	second := f.presign(t, "", "audio/wav")
	f.upload(t, first.Slots[0], "audio/wav", "shared bytes")
	kept := f.upload(t, second.Slots[0], "audio/wav", "shared bytes")

	removed, err := f.svc.DeleteBatch(ctx, first.Batch.ID)
	if err != nil {
		t.Fatalf("delete batch: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected shared blob to survive, removed %d", removed)
	}

	blob, err := f.store.GetBlob(ctx, kept.BlobRef)
	if err != nil || blob == nil {
		t.Fatalf("expected blob to remain: %v %#v", err, blob)
	}
}

func TestVerifyBlobs(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	result := f.presign(t, "", "audio/wav")
	slot := f.upload(t, result.Slots[0], "audio/wav", "pristine bytes")

	report, err := f.svc.VerifyBlobs(ctx)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.Checked != 1 || len(report.Mismatches) != 0 {
		t.Fatalf("unexpected report %#v", report)
	}

	blob, err := f.store.GetBlob(ctx, slot.BlobRef)
	if err != nil || blob == nil {
		t.Fatalf("get blob: %v", err)
	}
	path := filepath.Join(f.casRoot, filepath.FromSlash(blob.BlobKey))
	if err := os.WriteFile(path, []byte("tampered"), 0o644); err != nil {
		t.Fatalf("corrupt blob: %v", err)
	}

	report, err = f.svc.VerifyBlobs(ctx)
	if err != nil {
		t.Fatalf("verify tampered: %v", err)
	}
	if len(report.Mismatches) != 1 || report.Mismatches[0].BlobRef != slot.BlobRef {
		t.Fatalf("expected one mismatch for %s, got %#v", slot.BlobRef, report.Mismatches)
	}
}
