package serverr_test

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-microservices/pos-client/internal/serverr"
)

func TestClassify_StockMessageSplitsPerItem(t *testing.T) {
	p := serverr.Payload{Messages: []serverr.Message{{
		Message: "Insufficient Stock: Item: ABC-123 needs 5, has 2<br>Item: XYZ-9 needs 1, has 0",
	}}}

	got := serverr.Classify(p)

	require.Equal(t, serverr.KindStock, got.Kind)
	want := []serverr.StockError{
		{ItemCode: "ABC-123", Detail: "needs 5, has 2"},
		{ItemCode: "XYZ-9", Detail: "needs 1, has 0"},
	}
	if diff := cmp.Diff(want, got.Stock); diff != "" {
		t.Errorf("stock errors mismatch (-want +got):\n%s", diff)
	}
	assert.Nil(t, got.Generic)
	assert.True(t, got.Structured())
}

func TestClassify_IgnoresTextBeforeFirstItemMarker(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    []serverr.StockError
	}{
		{
			name:    "upper_case_prefix",
			message: "ERROR: Item: X-1 insufficient stock in Stores",
			want:    []serverr.StockError{{ItemCode: "X-1", Detail: "insufficient stock in Stores"}},
		},
		{
			name:    "starts_with_marker",
			message: "Item: X-1 insufficient stock",
			want:    []serverr.StockError{{ItemCode: "X-1", Detail: "insufficient stock"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := serverr.Classify(serverr.Payload{Messages: []serverr.Message{{Message: tt.message}}})

			assert.Equal(t, serverr.KindStock, got.Kind)
			assert.Equal(t, tt.want, got.Stock)
		})
	}
}

func TestClassify_RuleOrder(t *testing.T) {
	tests := []struct {
		name     string
		payload  serverr.Payload
		wantKind serverr.Kind
	}{
		{
			name: "stock_title",
			payload: serverr.Payload{Messages: []serverr.Message{
				{Title: "Stock Error", Message: "Item: WIDGET-1 is out"},
			}},
			wantKind: serverr.KindStock,
		},
		{
			name: "stock_unavailable_wins_over_item_errors",
			payload: serverr.Payload{
				Messages:   []serverr.Message{{Message: "Stock unavailable. Item: A1 short by 3"}},
				ItemErrors: []serverr.ItemError{{ItemCode: "A1", Error: "bad", Idx: 1}},
			},
			wantKind: serverr.KindStock,
		},
		{
			name: "item_errors",
			payload: serverr.Payload{
				Messages:   []serverr.Message{{Message: "Could not save"}},
				ItemErrors: []serverr.ItemError{{ItemCode: "A1", Error: "rate is zero", Idx: 2}},
			},
			wantKind: serverr.KindValidation,
		},
		{
			name:     "plain_text",
			payload:  serverr.Payload{Text: "connection reset"},
			wantKind: serverr.KindGeneric,
		},
		{
			name:     "empty",
			payload:  serverr.Payload{},
			wantKind: serverr.KindNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := serverr.Classify(tt.payload)
			assert.Equal(t, tt.wantKind, got.Kind)

			switch got.Kind {
			case serverr.KindStock:
				assert.NotEmpty(t, got.Stock)
				assert.Empty(t, got.Validation)
				assert.Nil(t, got.Generic)
			case serverr.KindValidation:
				assert.NotEmpty(t, got.Validation)
				assert.Empty(t, got.Stock)
				assert.Nil(t, got.Generic)
			case serverr.KindGeneric:
				assert.NotNil(t, got.Generic)
				assert.False(t, got.Structured())
			}
		})
	}
}

func TestClassify_ValidationKeepsRow(t *testing.T) {
	got := serverr.Classify(serverr.Payload{ItemErrors: []serverr.ItemError{
		{ItemCode: "A1", Error: "<b>Rate</b> must be positive", Idx: 3},
	}})

	require.Len(t, got.Validation, 1)
	assert.Equal(t, serverr.ValidationError{ItemCode: "A1", Message: "Rate must be positive", Row: 3}, got.Validation[0])
}

func TestClassify_GenericSummaryAndDetail(t *testing.T) {
	got := serverr.Classify(serverr.Payload{Messages: []serverr.Message{{
		Message: "Cannot submit order<br><br><br><ul><li>Customer is disabled</li><li>Credit limit crossed</li></ul>",
	}}})

	require.NotNil(t, got.Generic)
	assert.Equal(t, "Cannot submit order", got.Generic.Summary)
	assert.Equal(t, "Cannot submit order\n\n• Customer is disabled\n• Credit limit crossed", got.Generic.Detail)
}

func TestParseServerMessages(t *testing.T) {
	inner, err := json.Marshal(serverr.Message{Message: "Insufficient Stock: Item: ABC-1 short", Title: "Message", Indicator: "red"})
	require.NoError(t, err)
	list, err := json.Marshal([]string{string(inner)})
	require.NoError(t, err)
	doubly, err := json.Marshal(string(list))
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  string
		want []serverr.Message
	}{
		{
			name: "doubly_encoded",
			raw:  string(doubly),
			want: []serverr.Message{{Message: "Insufficient Stock: Item: ABC-1 short", Title: "Message", Indicator: "red"}},
		},
		{
			name: "list_of_strings",
			raw:  string(list),
			want: []serverr.Message{{Message: "Insufficient Stock: Item: ABC-1 short", Title: "Message", Indicator: "red"}},
		},
		{
			name: "list_of_objects",
			raw:  `[{"message":"one"},{"message":"two","title":"T"}]`,
			want: []serverr.Message{{Message: "one"}, {Message: "two", Title: "T"}},
		},
		{
			name: "single_object",
			raw:  `{"message":"solo"}`,
			want: []serverr.Message{{Message: "solo"}},
		},
		{
			name: "plain_text",
			raw:  "Something broke",
			want: []serverr.Message{{Message: "Something broke"}},
		},
		{
			name: "empty",
			raw:  "  ",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := serverr.ParseServerMessages(tt.raw)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseServerMessages() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseItemErrors(t *testing.T) {
	raw := json.RawMessage(`[{"item_code":"A","error":"x","idx":1},{"item_code":"B","error":"y","idx":"4"},{"item_code":"C","error":"z"}]`)

	got := serverr.ParseItemErrors(raw)

	want := []serverr.ItemError{
		{ItemCode: "A", Error: "x", Idx: 1},
		{ItemCode: "B", Error: "y", Idx: 4},
		{ItemCode: "C", Error: "z", Idx: 0},
	}
	assert.Equal(t, want, got)
}

func TestClassifyText_DoublyEncodedStock(t *testing.T) {
	raw := `"[\"{\\\"message\\\": \\\"Insufficient Stock: Item: ABC-123 needs 5, has 2<br>Item: XYZ-9 needs 1, has 0\\\", \\\"indicator\\\": \\\"red\\\"}\"]"`

	got := serverr.ClassifyText(raw)

	require.Equal(t, serverr.KindStock, got.Kind)
	require.Len(t, got.Stock, 2)
	assert.Equal(t, "ABC-123", got.Stock[0].ItemCode)
	assert.Equal(t, "XYZ-9", got.Stock[1].ItemCode)
}
