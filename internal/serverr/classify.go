package serverr

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Message is one entry of the backend's _server_messages list.
type Message struct {
	Message   string `json:"message"`
	Title     string `json:"title,omitempty"`
	Indicator string `json:"indicator,omitempty"`
}

// ItemError is one entry of the item_error list. Idx is the 1-based row.
type ItemError struct {
	ItemCode string `json:"item_code"`
	Error    string `json:"error"`
	Idx      int    `json:"idx"`
}

// Payload is the raw failure as the transport saw it.
type Payload struct {
	Messages   []Message
	ItemErrors []ItemError
	Text       string
}

type Kind string

const (
	KindNone       Kind = ""
	KindStock      Kind = "stock"
	KindValidation Kind = "validation"
	KindGeneric    Kind = "generic"
)

func (k Kind) String() string {
	return string(k)
}

type StockError struct {
	ItemCode string `json:"item_code"`
	Detail   string `json:"detail"`
}

type ValidationError struct {
	ItemCode string `json:"item_code"`
	Message  string `json:"message"`
	Row      int    `json:"row"`
}

type GenericError struct {
	Summary string `json:"summary"`
	Detail  string `json:"detail"`
}

// Result is the classified failure. Exactly one of Stock, Validation or
// Generic is populated, matching Kind.
type Result struct {
	Kind       Kind              `json:"kind"`
	Stock      []StockError      `json:"stock,omitempty"`
	Validation []ValidationError `json:"validation,omitempty"`
	Generic    *GenericError     `json:"generic,omitempty"`
}

// Structured reports whether the result is meant for inline per-item display.
func (r Result) Structured() bool {
	return r.Kind == KindStock || r.Kind == KindValidation
}

// Summary is a single line describing the result.
func (r Result) Summary() string {
	switch r.Kind {
	case KindStock:
		codes := make([]string, 0, len(r.Stock))
		for _, s := range r.Stock {
			codes = append(codes, s.ItemCode)
		}
		return "insufficient stock: " + strings.Join(codes, ", ")
	case KindValidation:
		parts := make([]string, 0, len(r.Validation))
		for _, v := range r.Validation {
			parts = append(parts, "row "+strconv.Itoa(v.Row)+": "+v.Message)
		}
		return strings.Join(parts, "; ")
	case KindGeneric:
		if r.Generic != nil {
			return r.Generic.Summary
		}
	}
	return ""
}

var (
	itemCodePattern = regexp.MustCompile(`(?s)^([A-Z0-9][A-Z0-9-]*)(?:[\s:,.;]+|$)(.*)$`)
	stockPrefix     = "insufficient stock:"
	itemMarker      = "Item:"
)

// Classify applies the rules in order and returns the first that matches:
// stock messages, then item_error rows, then a generic summary.
func Classify(p Payload) Result {
	if stock := stockErrors(p.Messages); len(stock) > 0 {
		return Result{Kind: KindStock, Stock: stock}
	}

	if len(p.ItemErrors) > 0 {
		out := make([]ValidationError, 0, len(p.ItemErrors))
		for _, ie := range p.ItemErrors {
			msg, _ := Summarize(ie.Error)
			out = append(out, ValidationError{ItemCode: ie.ItemCode, Message: msg, Row: ie.Idx})
		}
		return Result{Kind: KindValidation, Validation: out}
	}

	raw := p.Text
	for _, m := range p.Messages {
		if strings.TrimSpace(m.Message) != "" {
			raw = m.Message
			break
		}
	}
	if strings.TrimSpace(raw) == "" {
		return Result{}
	}

	summary, detail := Summarize(raw)
	return Result{Kind: KindGeneric, Generic: &GenericError{Summary: summary, Detail: detail}}
}

// ClassifyText is Classify for a bare error string.
func ClassifyText(text string) Result {
	return Classify(Payload{Messages: ParseServerMessages(text), Text: text})
}

func isStockMessage(m Message) bool {
	text := strings.ToLower(m.Message)
	return strings.Contains(text, "insufficient stock") ||
		strings.Contains(text, "stock unavailable") ||
		strings.Contains(strings.ToLower(m.Title), "stock")
}

func stockErrors(messages []Message) []StockError {
	var out []StockError
	for _, m := range messages {
		if !isStockMessage(m) {
			continue
		}
		text := StripHTML(m.Message)
		// Only text after an Item: marker names an item.
		for i, fragment := range strings.Split(text, itemMarker) {
			if i == 0 {
				continue
			}
			fragment = strings.TrimSpace(fragment)
			if fragment == "" || strings.EqualFold(fragment, stockPrefix) {
				continue
			}
			match := itemCodePattern.FindStringSubmatch(fragment)
			if match == nil {
				continue
			}
			out = append(out, StockError{
				ItemCode: match[1],
				Detail:   strings.Join(strings.Fields(match[2]), " "),
			})
		}
	}
	return out
}

// ParseServerMessages decodes _server_messages. The backend encodes the list
// as a JSON string whose elements are JSON strings themselves; plain objects,
// plain arrays and bare text are accepted too.
func ParseServerMessages(raw string) []Message {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var s string
	if err := json.Unmarshal([]byte(raw), &s); err == nil {
		return ParseServerMessages(s)
	}

	var list []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		out := make([]Message, 0, len(list))
		for _, elem := range list {
			out = append(out, parseMessage(elem)...)
		}
		return out
	}

	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err == nil && m.Message != "" {
		return []Message{m}
	}

	return []Message{{Message: raw}}
}

func parseMessage(elem json.RawMessage) []Message {
	var m Message
	if err := json.Unmarshal(elem, &m); err == nil {
		if m.Message == "" {
			return nil
		}
		return []Message{m}
	}

	var s string
	if err := json.Unmarshal(elem, &s); err == nil {
		return ParseServerMessages(s)
	}
	return nil
}

type rawItemError struct {
	ItemCode string          `json:"item_code"`
	Error    string          `json:"error"`
	Idx      json.RawMessage `json:"idx"`
}

// ParseItemErrors decodes an item_error list. idx may arrive as a number or a
// numeric string; anything else becomes row 0.
func ParseItemErrors(raw json.RawMessage) []ItemError {
	if len(raw) == 0 {
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ParseItemErrors(json.RawMessage(s))
	}

	var list []rawItemError
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}

	out := make([]ItemError, 0, len(list))
	for _, r := range list {
		out = append(out, ItemError{ItemCode: r.ItemCode, Error: r.Error, Idx: parseIdx(r.Idx)})
	}
	return out
}

func parseIdx(raw json.RawMessage) int {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n
		}
	}
	return 0
}
