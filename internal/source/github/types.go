package github

import "time"

// Notification is one entry of GET /notifications.
type Notification struct {
	ID         string     `json:"id"`
	Unread     bool       `json:"unread"`
	Reason     string     `json:"reason"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Subject    Subject    `json:"subject"`
	Repository Repository `json:"repository"`
}

// Subject describes what a notification is about.
type Subject struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Type  string `json:"type"`
}

// Repository identifies the repository a notification belongs to.
type Repository struct {
	FullName string `json:"full_name"`
}

// SubjectDetail is the subset of issue, pull request, release and commit
// payloads used to build an item body.
type SubjectDetail struct {
	Body        string `json:"body"`
	Name        string `json:"name"`
	CommentsURL string `json:"comments_url"`
	Commit      struct {
		Message string `json:"message"`
	} `json:"commit"`
}

// User is the authenticated user returned by GET /user.
type User struct {
	Login string `json:"login"`
}
