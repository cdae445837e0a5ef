package domain

import "time"

type seedRow struct {
	source  string
	content string
	age     time.Duration
}

var demoRows = []seedRow{
	{"App Store", "The app is too slow on login.", 6 * 24 * time.Hour},
	{"Twitter", "Love the new UI! So clean.", 5 * 24 * time.Hour},
	{"Support Ticket", "I cannot find the logout button.", 4 * 24 * time.Hour},
	{"Email", "Keep crashing on iOS 17.", 3 * 24 * time.Hour},
	{"App Store", "Best update ever, very fast.", 2 * 24 * time.Hour},
	{"Twitter", "Why did you move the search bar?", 24 * time.Hour},
	{"Email", "Login page is broken on Chrome.", 24 * time.Hour},
	{"Support Ticket", "Billing page is confusing.", 0},
	{"Twitter", "Dark mode is not working.", 12 * time.Hour},
	{"Email", "Where is my invoice?", 2 * 24 * time.Hour},
	{"App Store", "FaceID is broken.", 4 * 24 * time.Hour},
	{"Support Ticket", "Cannot update profile picture.", 5 * 24 * time.Hour},
}

// DemoFeedback returns the unclassified demo dataset with timestamps relative to now.
func DemoFeedback(now time.Time) []FeedbackItem {
	items := make([]FeedbackItem, 0, len(demoRows))
	for _, r := range demoRows {
		items = append(items, FeedbackItem{
			Source:    r.source,
			Content:   r.content,
			CreatedAt: now.Add(-r.age),
		})
	}
	return items
}
