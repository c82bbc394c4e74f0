package events

import (
	"context"
	"reflect"
	"testing"

	"github.com/felixgeelhaar/eventstore-go/domain/storage"
	"github.com/felixgeelhaar/eventstore-go/domain/systemstream"
	"github.com/felixgeelhaar/eventstore-go/infrastructure/storage/integrity"
)

func TestConverters_StageOrder(t *testing.T) {
	t.Parallel()

	set := Converters(systemstream.Empty, integrity.New(integrity.KindEvent, true))
	if got := set.ItemToDB.Names(); !reflect.DeepEqual(got, ItemToDBOrder) {
		t.Errorf("ItemToDB stages = %v, want %v", got, ItemToDBOrder)
	}
	if got := set.ItemFromDB.Names(); !reflect.DeepEqual(got, ItemFromDBOrder) {
		t.Errorf("ItemFromDB stages = %v, want %v", got, ItemFromDBOrder)
	}
}

func TestConverters_EndTime(t *testing.T) {
	t.Parallel()

	set := Converters(systemstream.Empty, integrity.New(integrity.KindEvent, false))
	ctx := context.Background()

	tests := []struct {
		name    string
		in      storage.Document
		wantEnd any
		hasEnd  bool
	}{
		{"instant", storage.Document{"time": 10.0}, 10.0, true},
		{"finished", storage.Document{"time": 10.0, "duration": 5.0}, 15.0, true},
		{"running", storage.Document{"time": 10.0, "duration": nil}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			in := tt.in.Clone()
			in["id"] = "e"
			in["streamIds"] = []any{"s"}
			out, err := set.ToDB(ctx, in)
			if err != nil {
				t.Fatalf("ToDB() error = %v", err)
			}
			end, ok := out["endTime"]
			if ok != tt.hasEnd || end != tt.wantEnd {
				t.Errorf("endTime = %v (present %v), want %v", end, ok, tt.wantEnd)
			}

			back, err := set.FromDB(ctx, out)
			if err != nil {
				t.Fatalf("FromDB() error = %v", err)
			}
			wantDuration, hasDuration := tt.in["duration"]
			gotDuration, gotHas := back["duration"]
			if gotHas != hasDuration || gotDuration != wantDuration {
				t.Errorf("duration = %v (present %v), want %v", gotDuration, gotHas, wantDuration)
			}
		})
	}
}

func TestUpdateEndTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      storage.Update
		want    any
		wantSet bool
		wantErr bool
	}{
		{"time and duration", storage.Update{Set: storage.Document{"time": 10.0, "duration": 5.0}}, 15.0, true, false},
		{"duration alone", storage.Update{Set: storage.Document{"duration": 5.0}}, nil, false, false},
		{"running", storage.Update{Set: storage.Document{"duration": nil}}, nil, true, false},
		{"unset with time", storage.Update{Set: storage.Document{"time": 10.0}, Unset: []string{"duration"}}, 10.0, true, false},
		{"untouched", storage.Update{Set: storage.Document{"content": "x"}}, nil, false, false},
		{"not a number", storage.Update{Set: storage.Document{"duration": "long"}}, nil, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			u := tt.in.Clone()
			err := updateEndTime(&u)
			if (err != nil) != tt.wantErr {
				t.Fatalf("updateEndTime() error = %v, wantErr %v", err, tt.wantErr)
			}
			got, set := u.Set["endTime"]
			if set != tt.wantSet || !reflect.DeepEqual(got, tt.want) {
				t.Errorf("endTime = %v (set %v), want %v (set %v)", got, set, tt.want, tt.wantSet)
			}
		})
	}
}

func TestConverters_StreamIDs(t *testing.T) {
	t.Parallel()

	set := Converters(systemstream.Empty, nil)
	out, err := set.ToDB(context.Background(), storage.Document{
		"id":        "e",
		"streamId":  "legacy",
		"streamIds": []any{"a", "legacy", "a"},
		"tags":      []any{"t"},
	})
	if err != nil {
		t.Fatalf("ToDB() error = %v", err)
	}
	want := []any{"legacy", "a", ":_tag:t"}
	if !reflect.DeepEqual(out["streamIds"], want) {
		t.Errorf("streamIds = %v, want %v", out["streamIds"], want)
	}
	if out.Has("streamId") {
		t.Error("legacy stream id kept")
	}
}

func TestRefreshMirrors(t *testing.T) {
	t.Parallel()

	registry := systemstream.NewStatic(systemstream.Field{Name: "email", Unique: true})
	d := storage.Document{"streamIds": []any{":_system:email"}, "content": "a@b", "stale__unique": "x"}
	refreshMirrors(d, registry)
	if d["email__unique"] != "a@b" || d.Has("stale__unique") {
		t.Errorf("live mirrors = %v", d)
	}

	d["trashed"] = true
	refreshMirrors(d, registry)
	if d.Has("email__unique") {
		t.Error("trashed event keeps its mirror")
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	before := storage.Document{"a": 1.0, "b": []any{"x"}, "c": "gone"}
	after := storage.Document{"a": 1.0, "b": []any{"x", "y"}, "d": nil}
	u := diff(before, after)

	wantSet := storage.Document{"b": []any{"x", "y"}, "d": nil}
	if !reflect.DeepEqual(u.Set, wantSet) {
		t.Errorf("Set = %v, want %v", u.Set, wantSet)
	}
	if !reflect.DeepEqual(u.Unset, []string{"c"}) {
		t.Errorf("Unset = %v", u.Unset)
	}
}
