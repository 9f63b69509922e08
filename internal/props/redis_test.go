package props

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
)

func TestNewRedisFetcher_Validation(t *testing.T) {
	client, _ := redismock.NewClientMock()
	if _, err := NewRedisFetcher(nil, "hg:props"); err == nil {
		t.Fatal("nil client accepted")
	}
	if _, err := NewRedisFetcher(client, ""); err == nil {
		t.Fatal("empty key accepted")
	}
}

func TestRedisFetcher_Fetch(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock redismock.ClientMock)
		want      map[string]string
		wantErr   bool
	}{
		{
			name: "hash fields become properties",
			setupMock: func(mock redismock.ClientMock) {
				mock.ExpectHGetAll("hg:props").SetVal(map[string]string{
					"policy":          "DENY",
					"shouldSetPolicy": "true",
				})
			},
			want: map[string]string{"policy": "DENY", "shouldSetPolicy": "true"},
		},
		{
			name: "missing hash is empty",
			setupMock: func(mock redismock.ClientMock) {
				mock.ExpectHGetAll("hg:props").SetVal(map[string]string{})
			},
			want: map[string]string{},
		},
		{
			name: "redis error",
			setupMock: func(mock redismock.ClientMock) {
				mock.ExpectHGetAll("hg:props").SetErr(errors.New("connection refused"))
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, mock := redismock.NewClientMock()
			tt.setupMock(mock)

			f, err := NewRedisFetcher(client, "hg:props")
			if err != nil {
				t.Fatal(err)
			}
			got, err := f.Fetch(context.Background())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
			} else {
				if err != nil {
					t.Fatalf("Fetch: %v", err)
				}
				if len(got) != len(tt.want) {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
				for k, v := range tt.want {
					if got[k] != v {
						t.Errorf("%s = %q, want %q", k, got[k], v)
					}
				}
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet redis expectations: %v", err)
			}
		})
	}
}
