package service_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"classroom.app/discussion/internal/model"
	"classroom.app/discussion/internal/service"
	"classroom.app/discussion/internal/store"
)

var _ = Describe("CommentService", func() {
	var (
		ctx       context.Context
		comments  store.CommentStore
		publisher *mockPublisher
		svc       service.CommentService
		ada       model.Author
		bo        model.Author
	)

	BeforeEach(func() {
		ctx = context.Background()
		comments = store.NewMemoryCommentStore()
		publisher = &mockPublisher{}
		svc = service.NewCommentService(comments, publisher, service.CommentServiceConfig{MaxTextLength: 20})
		ada = model.Author{ID: 1, Name: "Ada"}
		bo = model.Author{ID: 2, Name: "Bo"}
	})

	createRoot := func(text string) *model.Comment {
		c, err := svc.Create(ctx, ada, model.CreateComment{DiscussionID: 42, Text: text})
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	Describe("Create", func() {
		It("stores a root comment as its own root", func() {
			c := createRoot("  first  ")

			Expect(c.ID).NotTo(BeZero())
			Expect(c.RootID).To(Equal(c.ID))
			Expect(c.ParentID).To(BeNil())
			Expect(c.Text).To(Equal("first"))
			Expect(c.AuthorName).To(Equal("Ada"))
			Expect(c.Validate()).To(Succeed())

			events := publisher.published()
			Expect(events).To(HaveLen(1))
			Expect(events[0].Type).To(Equal(model.EventCreated))
			Expect(events[0].IsRootLevel()).To(BeTrue())
		})

		It("attaches a reply to the root and republishes the root", func() {
			root := createRoot("question")
			parent := root.ID

			r, err := svc.Create(ctx, bo, model.CreateComment{DiscussionID: 42, Text: "answer", ParentID: &parent})

			Expect(err).NotTo(HaveOccurred())
			Expect(*r.ParentID).To(Equal(root.ID))
			Expect(r.RootID).To(Equal(root.ID))

			events := publisher.published()
			Expect(events).To(HaveLen(3))
			Expect(events[1].Type).To(Equal(model.EventCreated))
			Expect(events[1].Data.ID).To(Equal(r.ID))
			Expect(events[2].Type).To(Equal(model.EventUpdated))
			Expect(events[2].Data.ID).To(Equal(root.ID))
			Expect(events[2].Data.ReplyCount).To(Equal(1))
		})

		It("flattens a reply to a reply into the root's thread", func() {
			root := createRoot("question")
			parent := root.ID
			first, err := svc.Create(ctx, bo, model.CreateComment{DiscussionID: 42, Text: "answer", ParentID: &parent})
			Expect(err).NotTo(HaveOccurred())

			nested := first.ID
			second, err := svc.Create(ctx, ada, model.CreateComment{DiscussionID: 42, Text: "thanks", ParentID: &nested})

			Expect(err).NotTo(HaveOccurred())
			Expect(*second.ParentID).To(Equal(first.ID))
			Expect(second.RootID).To(Equal(root.ID))

			page, err := svc.ListReplies(ctx, root.ID, 0, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Items).To(HaveLen(2))
		})

		DescribeTable("rejects invalid input",
			func(req model.CreateComment) {
				_, err := svc.Create(ctx, ada, req)
				Expect(errors.Is(err, service.ErrInvalidInput)).To(BeTrue())
				Expect(publisher.published()).To(BeEmpty())
			},
			Entry("empty text", model.CreateComment{DiscussionID: 42, Text: ""}),
			Entry("whitespace only", model.CreateComment{DiscussionID: 42, Text: " \n\t "}),
			Entry("too long", model.CreateComment{DiscussionID: 42, Text: strings.Repeat("x", 21)}),
			Entry("missing discussion", model.CreateComment{Text: "hi"}),
		)

		It("counts characters, not bytes", func() {
			_, err := svc.Create(ctx, ada, model.CreateComment{DiscussionID: 42, Text: strings.Repeat("é", 20)})
			Expect(err).NotTo(HaveOccurred())
		})

		It("returns ErrNotFound for an unknown parent", func() {
			parent := int64(404)
			_, err := svc.Create(ctx, ada, model.CreateComment{DiscussionID: 42, Text: "hi", ParentID: &parent})
			Expect(err).To(MatchError(service.ErrNotFound))
		})

		It("rejects a parent from another discussion", func() {
			root := createRoot("question")
			parent := root.ID
			_, err := svc.Create(ctx, ada, model.CreateComment{DiscussionID: 43, Text: "hi", ParentID: &parent})
			Expect(errors.Is(err, service.ErrInvalidInput)).To(BeTrue())
		})

		It("rejects replies to a deleted parent", func() {
			root := createRoot("question")
			_, err := svc.Delete(ctx, ada, root.ID)
			Expect(err).NotTo(HaveOccurred())

			parent := root.ID
			_, err = svc.Create(ctx, bo, model.CreateComment{DiscussionID: 42, Text: "late", ParentID: &parent})
			Expect(errors.Is(err, service.ErrInvalidInput)).To(BeTrue())
		})

		It("succeeds when the event cannot be published", func() {
			publisher.err = errors.New("redis down")

			c, err := svc.Create(ctx, ada, model.CreateComment{DiscussionID: 42, Text: "still saved"})

			Expect(err).NotTo(HaveOccurred())
			stored, err := comments.GetByID(ctx, c.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Text).To(Equal("still saved"))
		})

		It("propagates store failures", func() {
			failing := &mockCommentStore{
				createFn: func(context.Context, *model.Comment) error {
					return errors.New("database connection failed")
				},
			}
			svc = service.NewCommentService(failing, publisher, service.CommentServiceConfig{})

			c, err := svc.Create(ctx, ada, model.CreateComment{DiscussionID: 42, Text: "hi"})

			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("database connection failed"))
			Expect(c).To(BeNil())
			Expect(publisher.published()).To(BeEmpty())
		})
	})

	Describe("Edit", func() {
		It("updates the text and publishes UPDATED", func() {
			root := createRoot("draft")

			edited, err := svc.Edit(ctx, ada, root.ID, "final")

			Expect(err).NotTo(HaveOccurred())
			Expect(edited.Text).To(Equal("final"))
			Expect(edited.Edited).To(BeTrue())
			Expect(edited.UpdatedAt).NotTo(BeNil())
			events := publisher.published()
			Expect(events[len(events)-1].Type).To(Equal(model.EventUpdated))
		})

		It("only lets the author edit", func() {
			root := createRoot("mine")
			_, err := svc.Edit(ctx, bo, root.ID, "yours")
			Expect(err).To(MatchError(service.ErrForbidden))
		})

		It("returns ErrNotFound for an unknown comment", func() {
			_, err := svc.Edit(ctx, ada, 404, "text")
			Expect(err).To(MatchError(service.ErrNotFound))
		})

		It("refuses to edit a deleted comment", func() {
			root := createRoot("gone")
			_, err := svc.Delete(ctx, ada, root.ID)
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.Edit(ctx, ada, root.ID, "back")
			Expect(errors.Is(err, service.ErrInvalidInput)).To(BeTrue())
		})
	})

	Describe("Delete", func() {
		It("soft deletes and publishes DELETED once", func() {
			root := createRoot("bye")

			deleted, err := svc.Delete(ctx, ada, root.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted.Deleted).To(BeTrue())
			Expect(deleted.Text).To(BeEmpty())

			again, err := svc.Delete(ctx, ada, root.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(again.Deleted).To(BeTrue())

			var deletes int
			for _, ev := range publisher.published() {
				if ev.Type == model.EventDeleted {
					deletes++
				}
			}
			Expect(deletes).To(Equal(1))
		})

		It("only lets the author delete", func() {
			root := createRoot("mine")
			_, err := svc.Delete(ctx, bo, root.ID)
			Expect(err).To(MatchError(service.ErrForbidden))
		})
	})

	Describe("listing", func() {
		It("pages roots in creation order", func() {
			for _, text := range []string{"a", "b", "c"} {
				createRoot(text)
				time.Sleep(time.Millisecond)
			}

			first, err := svc.ListRoots(ctx, 42, 0, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Items).To(HaveLen(2))
			Expect(first.Items[0].Text).To(Equal("a"))
			Expect(first.Last).To(BeFalse())

			second, err := svc.ListRoots(ctx, 42, 1, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Items).To(HaveLen(1))
			Expect(second.Last).To(BeTrue())
		})

		DescribeTable("validates paging",
			func(page, size int) {
				_, err := svc.ListRoots(ctx, 42, page, size)
				Expect(errors.Is(err, service.ErrInvalidInput)).To(BeTrue())
			},
			Entry("negative page", -1, 10),
			Entry("zero size", 0, 0),
			Entry("oversized page", 0, 101),
			Entry("page offset overflowing int", math.MaxInt64/50, 100),
			Entry("page offset past the store limit", store.MaxOffset/100+1, 100),
		)

		It("refuses to list replies of a reply", func() {
			root := createRoot("question")
			parent := root.ID
			r, err := svc.Create(ctx, bo, model.CreateComment{DiscussionID: 42, Text: "answer", ParentID: &parent})
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.ListReplies(ctx, r.ID, 0, 10)
			Expect(errors.Is(err, service.ErrInvalidInput)).To(BeTrue())
		})

		It("returns ErrNotFound for replies of an unknown root", func() {
			_, err := svc.ListReplies(ctx, 404, 0, 10)
			Expect(err).To(MatchError(service.ErrNotFound))
		})
	})
})
