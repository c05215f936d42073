package transport

import "fmt"

// Topic is a broker address. Events for every comment in a discussion go to
// its discussion topic; replies are also published to their thread topic.
type Topic string

func DiscussionTopic(discussionID int64) Topic {
	return Topic(fmt.Sprintf("discussion/%d/comments", discussionID))
}

func ThreadTopic(rootID int64) Topic {
	return Topic(fmt.Sprintf("thread/%d", rootID))
}

func (t Topic) String() string {
	return string(t)
}
