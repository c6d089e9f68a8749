// Package scheduler – events.go maps system_event types to the canned
// messages posted when such a job fires. Dispatch goes straight to the
// outbound channel; no model call is involved.
package scheduler

import "fmt"

// eventMessages are the canned texts for known event types.
var eventMessages = map[string]string{
	"good_morning": "좋은 아침이에요! 오늘도 힘내요 ☀️",
	"good_night":   "오늘 하루도 수고했어요. 잘 자요 🌙",
	"drink_water":  "물 한 잔 마실 시간이에요 💧",
	"stretch":      "잠깐 일어나서 스트레칭 한 번 해요 🙆",
	"take_break":   "쉬어 갈 시간이에요 ☕",
}

// EventMessage returns the canned text for eventType, with data appended on
// its own line when present. Unknown types still produce a visible notice
// naming the event, so a misconfigured job never fires silently.
func EventMessage(eventType, data string) string {
	text, ok := eventMessages[eventType]
	if !ok {
		text = fmt.Sprintf("🔔 %s", eventType)
	}
	if data != "" {
		text += "\n" + data
	}
	return text
}
