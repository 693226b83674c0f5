package backend

import (
	"testing"
	"time"
)

func doc(id, sender, receiver string, ts time.Time) Document {
	return Document{ID: id, Fields: Fields{"senderID": sender, "receiverID": receiver, "timestamp": ts}}
}

func TestEvaluateFiltersOrdersAndLimits(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	docs := []Document{
		doc("3", "a", "b", base.Add(3*time.Second)),
		doc("1", "a", "b", base.Add(1*time.Second)),
		doc("2", "b", "a", base.Add(2*time.Second)),
		doc("4", "a", "c", base),
	}

	q := Query{
		Collection: "messages",
		Where:      []Filter{WhereIn("senderID", "a", "b"), WhereIn("receiverID", "a", "b")},
		OrderBy:    "timestamp",
	}
	got := Evaluate(docs, q)
	if len(got) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(got))
	}
	for i, want := range []string{"1", "2", "3"} {
		if got[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, got[i].ID)
		}
	}

	q.Descending = true
	q.Limit = 2
	got = Evaluate(docs, q)
	if len(got) != 2 || got[0].ID != "3" || got[1].ID != "2" {
		t.Fatalf("unexpected descending page: %+v", got)
	}
}

func TestEvaluateMixedTimestampEncodings(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	docs := []Document{
		{ID: "late", Fields: Fields{"timestamp": base.Add(time.Minute).Format(time.RFC3339Nano)}},
		{ID: "early", Fields: Fields{"timestamp": base}},
	}
	got := Evaluate(docs, Query{Collection: "messages", OrderBy: "timestamp"})
	if got[0].ID != "early" {
		t.Fatalf("expected early first, got %s", got[0].ID)
	}
}

func TestQueryValidate(t *testing.T) {
	tests := []struct {
		name    string
		q       Query
		wantErr bool
	}{
		{"ok", Query{Collection: "users", Where: []Filter{Where("name", "bob")}}, false},
		{"missing collection", Query{}, true},
		{"bad in value", Query{Collection: "users", Where: []Filter{{Field: "name", Op: OpIn, Value: "bob"}}}, true},
		{"unknown op", Query{Collection: "users", Where: []Filter{{Field: "name", Op: ">", Value: "bob"}}}, true},
		{"negative limit", Query{Collection: "users", Limit: -1}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.q.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestFieldsResolveAndTime(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC)
	f := Fields{"createdAt": ServerTimestamp, "name": "alice"}.Resolve(now)
	got, ok := f.Time("createdAt")
	if !ok || !got.Equal(now) {
		t.Fatalf("expected resolved timestamp %v, got %v (%v)", now, got, ok)
	}
	if f.String("name") != "alice" {
		t.Fatalf("unexpected name %q", f.String("name"))
	}

	encoded := f.Encode()
	parsed, ok := Fields(encoded).Time("createdAt")
	if !ok || !parsed.Equal(now) {
		t.Fatalf("encoded timestamp did not round trip: %v", encoded["createdAt"])
	}
	if _, ok := (Fields{}).Time("missing"); ok {
		t.Fatalf("expected missing field to report !ok")
	}
}

func TestSplitServerTimestamps(t *testing.T) {
	f := Fields{"updatedAt": ServerTimestamp, "createdAt": ServerTimestamp, "name": "alice"}
	rest, stamped := f.SplitServerTimestamps()
	if len(stamped) != 2 || stamped[0] != "createdAt" || stamped[1] != "updatedAt" {
		t.Fatalf("unexpected stamped fields %v", stamped)
	}
	if len(rest) != 1 || rest.String("name") != "alice" {
		t.Fatalf("unexpected remaining fields %v", rest)
	}
	if _, ok := f["createdAt"]; !ok {
		t.Fatalf("input fields must not be modified")
	}

	rest, stamped = (Fields{"name": "bob"}).SplitServerTimestamps()
	if stamped != nil || rest.String("name") != "bob" {
		t.Fatalf("unexpected split %v %v", rest, stamped)
	}
}

func TestHandleCloseRunsClosersOnce(t *testing.T) {
	var order []int
	h := &Handle{}
	h.OnClose(func() error { order = append(order, 1); return nil })
	h.OnClose(func() error { order = append(order, 2); return nil })

	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("unexpected closer order %v", order)
	}
	if h.Status().Complete() {
		t.Fatalf("empty handle should not be complete")
	}
}
