package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"classroom.app/discussion/internal/cache"
	"classroom.app/discussion/internal/model"
)

type command struct {
	name string
	arg  string
	id   int64
}

const usage = `commands:
  more            load the next page of the open thread, or of the roots
  open <id>       open the thread of root comment <id>
  close           close the open thread
  post <text>     post a root comment
  reply <text>    reply to the open thread
  like <id>       toggle a local like
  refresh         refetch everything on screen
  quit`

func parseCommand(line string) (command, error) {
	name, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	cmd := command{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}

	switch cmd.name {
	case "more", "close", "refresh", "quit", "help":
		return cmd, nil
	case "post", "reply":
		if cmd.arg == "" {
			return command{}, fmt.Errorf("%s needs text", cmd.name)
		}
		return cmd, nil
	case "open", "like":
		id, err := strconv.ParseInt(cmd.arg, 10, 64)
		if err != nil || id <= 0 {
			return command{}, fmt.Errorf("%s needs a comment id", cmd.name)
		}
		cmd.id = id
		return cmd, nil
	case "":
		return command{}, fmt.Errorf("empty command")
	default:
		return command{}, fmt.Errorf("unknown command %q", cmd.name)
	}
}

// printer renders scope snapshots. Writes are serialized because refreshes
// land from the transport goroutine.
type printer struct {
	mu    sync.Mutex
	out   io.Writer
	liked func(int64) bool
}

func (p *printer) snapshot(title string, snap cache.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "== %s (%d loaded", title, len(snap.Items))
	switch {
	case snap.IsLoading:
		fmt.Fprint(p.out, ", loading")
	case snap.IsFetchingNext:
		fmt.Fprint(p.out, ", loading more")
	case snap.Loaded() && !snap.IsLastPage:
		fmt.Fprint(p.out, ", more available")
	}
	fmt.Fprintln(p.out, ")")

	for _, c := range snap.Items {
		fmt.Fprintf(p.out, "  %s\n", p.line(c))
	}
	if snap.Err != nil {
		fmt.Fprintf(p.out, "  ! %v\n", snap.Err)
	}
}

func (p *printer) line(c model.Comment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s: ", c.ID, c.AuthorName)
	if c.Deleted {
		b.WriteString("(deleted)")
	} else {
		b.WriteString(c.Text)
	}
	if c.Edited && !c.Deleted {
		b.WriteString(" (edited)")
	}
	if c.IsRoot() && c.ReplyCount > 0 {
		fmt.Fprintf(&b, " · %d replies", c.ReplyCount)
	}
	if p.liked != nil && p.liked(c.ID) {
		b.WriteString(" ♥")
	}
	return b.String()
}

func (p *printer) message(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format+"\n", args...)
}
