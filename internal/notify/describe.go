package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"ppe_realtime/internal/realtime"
)

const (
	fallbackItem   = "PPE device"
	fallbackPerson = "a user"
	fallbackReport = "an issue"
)

// Field paths tried in order; the first non-empty value wins.
var (
	itemNamePaths = []string{
		"issuance.item_id.item_name",
		"issuance.item.item_name",
		"item.item_name",
		"item_id.item_name",
		"item.name",
		"issuance.item_name",
		"item_name",
	}
	recipientPaths = []string{
		"recipient.name",
		"recipient.full_name",
		"issuance.user_id.full_name",
		"user.full_name",
		"recipient_name",
		"user_name",
	}
	returnerPaths = []string{
		"returner.name",
		"returner.full_name",
		"returned_by.full_name",
		"issuance.user_id.full_name",
		"user.full_name",
		"returner_name",
		"user_name",
	}
	reportTypePaths = []string{
		"report_type",
		"report.report_type",
		"issuance.report_type",
		"type",
	}
	assigneePaths = []string{
		"issuance.user_id.full_name",
		"user.full_name",
		"user_id.full_name",
		"full_name",
		"user_name",
	}
	quantityPaths = []string{
		"item.remaining_quantity",
		"item.quantity_available",
		"remaining_quantity",
		"quantity_available",
		"quantity",
	}
)

// Describe turns an event into a notification. Missing fields fall back to
// generic labels; it never fails.
func Describe(topic realtime.Topic, ev realtime.Event) Notification {
	item := lookupString(ev, itemNamePaths, fallbackItem)

	switch topic {
	case realtime.TopicDistributed:
		return Notification{
			Topic:    topic,
			Severity: SeveritySuccess,
			Title:    "PPE distributed",
			Text:     fmt.Sprintf("%s distributed to %s", item, lookupString(ev, recipientPaths, fallbackPerson)),
			Duration: 5 * time.Second,
		}
	case realtime.TopicReturned:
		return Notification{
			Topic:    topic,
			Severity: SeverityInfo,
			Title:    "PPE returned",
			Text:     fmt.Sprintf("%s returned by %s", item, lookupString(ev, returnerPaths, fallbackPerson)),
			Duration: 5 * time.Second,
		}
	case realtime.TopicReported:
		return Notification{
			Topic:    topic,
			Severity: SeverityWarning,
			Title:    "PPE issue reported",
			Text:     fmt.Sprintf("%s reported: %s", item, lookupString(ev, reportTypePaths, fallbackReport)),
			Duration: 8 * time.Second,
		}
	case realtime.TopicOverdue:
		return Notification{
			Topic:    topic,
			Severity: SeverityError,
			Title:    "PPE overdue",
			Text:     fmt.Sprintf("%s overdue for %s", item, lookupString(ev, assigneePaths, fallbackPerson)),
			Duration: 10 * time.Second,
		}
	case realtime.TopicLowStock:
		return Notification{
			Topic:    topic,
			Severity: SeverityWarning,
			Title:    "Low PPE stock",
			Text:     fmt.Sprintf("%s is low on stock (%s left)", item, lookupQuantity(ev, quantityPaths)),
			Duration: 8 * time.Second,
		}
	}

	return Notification{
		Topic:    topic,
		Severity: SeverityInfo,
		Title:    "PPE update",
		Text:     item,
		Duration: 5 * time.Second,
	}
}

// lookup walks a dotted path through nested objects
func lookup(ev realtime.Event, path string) (interface{}, bool) {
	var cur interface{} = map[string]interface{}(ev)
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func lookupString(ev realtime.Event, paths []string, fallback string) string {
	for _, p := range paths {
		v, ok := lookup(ev, p)
		if !ok {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return fallback
}

func lookupQuantity(ev realtime.Event, paths []string) string {
	for _, p := range paths {
		v, ok := lookup(ev, p)
		if !ok {
			continue
		}
		switch q := v.(type) {
		case float64:
			return strconv.FormatFloat(q, 'f', -1, 64)
		case int:
			return strconv.Itoa(q)
		case string:
			if _, err := strconv.ParseFloat(q, 64); err == nil {
				return q
			}
		}
	}
	return "0"
}
