package view_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"classroom.app/discussion/internal/cache"
	"classroom.app/discussion/internal/model"
	"classroom.app/discussion/internal/repository"
	"classroom.app/discussion/internal/transport"
	"classroom.app/discussion/internal/view"
)

func itemIDs(s cache.Snapshot) []int64 {
	out := make([]int64, 0, len(s.Items))
	for _, it := range s.Items {
		out = append(out, it.ID)
	}
	return out
}

var _ = Describe("Session", func() {
	var (
		ctx     context.Context
		source  *pageSource
		engine  *cache.Engine
		creator *mockCreator
		broker  *fakeBroker
		client  *transport.Client
		session *view.Session
	)

	BeforeEach(func() {
		ctx = context.Background()
		source = newPageSource()
		source.addRoot(root(1, 42))
		source.addRoot(root(2, 42))
		source.addRoot(root(3, 42))
		source.addReply(reply(10, 42, 1))
		source.addReply(reply(20, 42, 2))
		source.addRoot(root(100, 43))

		engine = cache.NewEngine(source, 2)
		creator = &mockCreator{}
		broker = &fakeBroker{}
		client = transport.NewClient(broker, transport.Config{
			MinBackoff:     5 * time.Millisecond,
			MaxBackoff:     20 * time.Millisecond,
			ReceiveTimeout: 50 * time.Millisecond,
		})
		session = view.NewSession(engine, creator, client)
	})

	AfterEach(func() {
		session.CloseDiscussion(ctx)
		session.Wait()
	})

	It("starts closed and rejects thread operations", func() {
		Expect(session.State()).To(Equal(view.Closed))
		Expect(session.SelectThread(ctx, root(1, 42))).To(MatchError(view.ErrNoDiscussion))
		Expect(session.LoadMoreRoots(ctx)).To(MatchError(view.ErrNoDiscussion))
		Expect(session.CloseThread()).To(MatchError(view.ErrNoThread))

		_, err := session.Submit(ctx, "hello")
		Expect(err).To(MatchError(view.ErrNoDiscussion))
	})

	Describe("OpenDiscussion", func() {
		It("loads the first page of roots and subscribes to the discussion", func() {
			Expect(session.OpenDiscussion(ctx, 42)).To(Succeed())

			Expect(session.State()).To(Equal(view.RootsOpen))
			Expect(itemIDs(session.Roots())).To(Equal([]int64{1, 2}))
			Expect(session.Topics()).To(ConsistOf(transport.DiscussionTopic(42)))
		})

		It("pages through the roots", func() {
			Expect(session.OpenDiscussion(ctx, 42)).To(Succeed())
			Expect(session.LoadMoreRoots(ctx)).To(Succeed())
			Expect(session.LoadMoreRoots(ctx)).To(Succeed())

			snap := session.Roots()
			Expect(itemIDs(snap)).To(Equal([]int64{1, 2, 3}))
			Expect(snap.IsLastPage).To(BeTrue())
			rootFetches, _ := source.fetches()
			Expect(rootFetches).To(Equal(2))
		})

		It("is a no-op for the discussion already open", func() {
			Expect(session.OpenDiscussion(ctx, 42)).To(Succeed())
			Expect(session.OpenDiscussion(ctx, 42)).To(Succeed())

			rootFetches, _ := source.fetches()
			Expect(rootFetches).To(Equal(1))
		})

		It("closes the current discussion before opening another", func() {
			Expect(session.OpenDiscussion(ctx, 42)).To(Succeed())
			Expect(session.SelectThread(ctx, root(1, 42))).To(Succeed())

			Expect(session.OpenDiscussion(ctx, 43)).To(Succeed())

			Expect(session.State()).To(Equal(view.RootsOpen))
			Expect(session.DiscussionID()).To(Equal(int64(43)))
			Expect(session.Topics()).To(ConsistOf(transport.DiscussionTopic(43)))
			Expect(engine.Has(cache.RootsScope(42))).To(BeFalse())
			Expect(engine.Has(cache.ThreadScope(1))).To(BeFalse())
			Expect(itemIDs(session.Roots())).To(Equal([]int64{100}))
		})
	})

	Describe("SelectThread", func() {
		BeforeEach(func() {
			Expect(session.OpenDiscussion(ctx, 42)).To(Succeed())
		})

		It("rejects replies and comments of other discussions", func() {
			Expect(session.SelectThread(ctx, reply(10, 42, 1))).To(MatchError(view.ErrNotRootComment))
			Expect(session.SelectThread(ctx, root(100, 43))).To(MatchError(view.ErrNotRootComment))
			Expect(session.State()).To(Equal(view.RootsOpen))
		})

		It("mounts the thread's replies", func() {
			Expect(session.SelectThread(ctx, root(1, 42))).To(Succeed())

			Expect(session.State()).To(Equal(view.ThreadOpen))
			thread, ok := session.Thread()
			Expect(ok).To(BeTrue())
			Expect(thread.ID).To(Equal(int64(1)))
			Expect(itemIDs(session.Replies())).To(Equal([]int64{10}))
		})

		It("releases the previous thread when another is selected", func() {
			Expect(session.SelectThread(ctx, root(1, 42))).To(Succeed())
			Expect(session.SelectThread(ctx, root(2, 42))).To(Succeed())

			Expect(session.Topics()).To(ConsistOf(transport.DiscussionTopic(42), transport.ThreadTopic(2)))
			Expect(engine.Has(cache.ThreadScope(1))).To(BeFalse())
			Expect(itemIDs(session.Replies())).To(Equal([]int64{20}))

			Eventually(func() bool { return client.Stats().Connected }).Should(BeTrue())
			conn := broker.current()
			Expect(conn.isActive(transport.ThreadTopic(1))).To(BeFalse())
			Expect(conn.isActive(transport.ThreadTopic(2))).To(BeTrue())
		})

		It("keeps the root list when the thread closes", func() {
			Expect(session.SelectThread(ctx, root(1, 42))).To(Succeed())
			Expect(session.CloseThread()).To(Succeed())

			Expect(session.State()).To(Equal(view.RootsOpen))
			Expect(engine.Has(cache.ThreadScope(1))).To(BeFalse())
			Expect(itemIDs(session.Roots())).To(Equal([]int64{1, 2}))
			Expect(session.Replies().Items).To(BeEmpty())
			Expect(session.LoadMoreReplies(ctx)).To(MatchError(view.ErrNoThread))
		})
	})

	Describe("Refresh", func() {
		BeforeEach(func() {
			Expect(session.OpenDiscussion(ctx, 42)).To(Succeed())
			Expect(session.SelectThread(ctx, root(1, 42))).To(Succeed())
		})

		It("refetches the roots and the open thread", func() {
			source.addReply(reply(11, 42, 1))

			Expect(session.Refresh(ctx)).To(Succeed())

			Expect(itemIDs(session.Replies())).To(Equal([]int64{10, 11}))
			rootFetches, replyFetches := source.fetches()
			Expect(rootFetches).To(Equal(2))
			Expect(replyFetches).To(Equal(2))
		})

		It("does not remount a thread closed while the refresh runs", func() {
			waiting, release := source.holdRoots()
			defer release()

			done := make(chan error, 1)
			go func() {
				defer GinkgoRecover()
				done <- session.Refresh(ctx)
			}()
			Eventually(waiting).Should(Receive())

			Expect(session.CloseThread()).To(Succeed())
			release()
			Eventually(done).Should(Receive(BeNil()))

			Expect(session.State()).To(Equal(view.RootsOpen))
			Expect(engine.Has(cache.ThreadScope(1))).To(BeFalse())
			Expect(engine.Snapshot(cache.ThreadScope(1)).Items).To(BeEmpty())
			_, replyFetches := source.fetches()
			Expect(replyFetches).To(Equal(1))
		})

		It("does not remount the roots of a discussion closed during the refresh", func() {
			waiting, release := source.holdRoots()
			defer release()

			done := make(chan error, 1)
			go func() {
				defer GinkgoRecover()
				done <- session.Refresh(ctx)
			}()
			Eventually(waiting).Should(Receive())

			session.CloseDiscussion(ctx)
			release()
			Eventually(done).Should(Receive(BeNil()))

			Expect(engine.Has(cache.RootsScope(42))).To(BeFalse())
			Expect(engine.Has(cache.ThreadScope(1))).To(BeFalse())
		})
	})

	Describe("CloseDiscussion", func() {
		It("unmounts every scope and subscription", func() {
			Expect(session.OpenDiscussion(ctx, 42)).To(Succeed())
			Expect(session.SelectThread(ctx, root(1, 42))).To(Succeed())
			session.ToggleLike(1)

			session.CloseDiscussion(ctx)

			Expect(session.State()).To(Equal(view.Closed))
			Expect(session.Topics()).To(BeEmpty())
			Expect(engine.Has(cache.RootsScope(42))).To(BeFalse())
			Expect(engine.Has(cache.ThreadScope(1))).To(BeFalse())
			Expect(session.Liked(1)).To(BeFalse())
			Expect(client.Stats().Handles).To(BeZero())
		})
	})

	Describe("live events", func() {
		BeforeEach(func() {
			Expect(session.OpenDiscussion(ctx, 42)).To(Succeed())
			Expect(session.SelectThread(ctx, root(1, 42))).To(Succeed())
			Eventually(func() bool { return client.Stats().Connected }).Should(BeTrue())
		})

		It("refreshes the open thread on a reply and leaves the roots alone", func() {
			rootsBefore, _ := source.fetches()
			created := reply(11, 42, 1)
			source.addReply(created)
			payload, err := json.Marshal(model.NewEvent(model.EventCreated, created))
			Expect(err).NotTo(HaveOccurred())

			broker.current().publish(transport.DiscussionTopic(42), payload)

			Eventually(func() []int64 { return itemIDs(session.Replies()) }).Should(Equal([]int64{10, 11}))
			session.Wait()
			rootsAfter, _ := source.fetches()
			Expect(rootsAfter).To(Equal(rootsBefore))
		})

		It("refreshes the roots on a new root comment", func() {
			created := root(4, 42)
			source.mu.Lock()
			source.roots[42] = append([]model.Comment{created}, source.roots[42]...)
			source.mu.Unlock()
			payload, err := json.Marshal(model.NewEvent(model.EventCreated, created))
			Expect(err).NotTo(HaveOccurred())

			broker.current().publish(transport.DiscussionTopic(42), payload)

			Eventually(func() []int64 { return itemIDs(session.Roots()) }).Should(Equal([]int64{4, 1}))
		})
	})

	Describe("Submit and Reply", func() {
		BeforeEach(func() {
			Expect(session.OpenDiscussion(ctx, 42)).To(Succeed())
		})

		It("refetches the root list after a successful submit", func() {
			creator.createFn = func(_ context.Context, req model.CreateComment) (model.Comment, error) {
				c := root(4, req.DiscussionID)
				c.Text = req.Text
				source.mu.Lock()
				source.roots[42] = append([]model.Comment{c}, source.roots[42]...)
				source.mu.Unlock()
				return c, nil
			}

			created, err := session.Submit(ctx, "new question")

			Expect(err).NotTo(HaveOccurred())
			Expect(created.ID).To(Equal(int64(4)))
			Expect(itemIDs(session.Roots())).To(Equal([]int64{4, 1}))
		})

		It("posts replies against the open thread's root", func() {
			Expect(session.SelectThread(ctx, root(1, 42))).To(Succeed())
			creator.createFn = func(_ context.Context, req model.CreateComment) (model.Comment, error) {
				c := reply(12, req.DiscussionID, *req.ParentID)
				source.addReply(c)
				return c, nil
			}

			_, err := session.Reply(ctx, "answer")

			Expect(err).NotTo(HaveOccurred())
			Expect(creator.requests).To(HaveLen(1))
			Expect(*creator.requests[0].ParentID).To(Equal(int64(1)))
			Expect(itemIDs(session.Replies())).To(Equal([]int64{10, 12}))
		})

		It("requires an open thread to reply", func() {
			_, err := session.Reply(ctx, "answer")
			Expect(err).To(MatchError(view.ErrNoThread))
		})

		It("adds nothing to any scope when the create fails", func() {
			creator.createFn = func(context.Context, model.CreateComment) (model.Comment, error) {
				return model.Comment{}, repository.ErrNetwork
			}
			rootsBefore, _ := source.fetches()

			_, err := session.Submit(ctx, "lost")

			Expect(errors.Is(err, repository.ErrNetwork)).To(BeTrue())
			Expect(itemIDs(session.Roots())).To(Equal([]int64{1, 2}))
			rootsAfter, _ := source.fetches()
			Expect(rootsAfter).To(Equal(rootsBefore))
		})

		It("rejects empty text without touching the network", func() {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(http.StatusCreated)
			}))
			defer srv.Close()
			repo := repository.NewClient(repository.Config{BaseURL: srv.URL}, repository.StaticToken("t"))
			withRepo := view.NewSession(engine, repo, client)
			Expect(withRepo.OpenDiscussion(ctx, 43)).To(Succeed())
			defer withRepo.CloseDiscussion(ctx)

			_, err := withRepo.Submit(ctx, "")

			Expect(errors.Is(err, repository.ErrValidation)).To(BeTrue())
			Expect(calls.Load()).To(BeZero())
			Expect(itemIDs(withRepo.Roots())).To(Equal([]int64{100}))
		})
	})

	It("toggles local likes", func() {
		Expect(session.ToggleLike(7)).To(BeTrue())
		Expect(session.Liked(7)).To(BeTrue())
		Expect(session.ToggleLike(7)).To(BeFalse())
		Expect(session.Liked(7)).To(BeFalse())
	})
})
