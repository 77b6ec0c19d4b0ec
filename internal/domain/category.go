package domain

import "strings"

// Category is the semantic class assigned to an inbound message. It decides
// the reply route: LOGISTICAL goes to the AI, EMERGENCY bypasses every gate,
// everything else gets a canned template.
type Category string

const (
	CategoryLogistical Category = "LOGISTICAL"
	CategoryEmotional  Category = "EMOTIONAL"
	CategoryConflict   Category = "CONFLICT"
	CategoryEmergency  Category = "EMERGENCY"
	CategoryMedia      Category = "MEDIA"
	CategoryOther      Category = "OTHER"
)

// ParseCategory normalizes a label from the classifier. Anything unknown
// degrades to OTHER, never to LOGISTICAL.
func ParseCategory(s string) Category {
	switch Category(strings.ToUpper(strings.TrimSpace(s))) {
	case CategoryLogistical:
		return CategoryLogistical
	case CategoryEmotional:
		return CategoryEmotional
	case CategoryConflict:
		return CategoryConflict
	case CategoryEmergency:
		return CategoryEmergency
	case CategoryMedia:
		return CategoryMedia
	default:
		return CategoryOther
	}
}
