//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/appguard/internal/daemon"
	"github.com/eliteGoblin/focusd/appguard/internal/domain"
	"github.com/eliteGoblin/focusd/appguard/internal/infra"
	"github.com/eliteGoblin/focusd/appguard/internal/policy"
	"github.com/eliteGoblin/focusd/appguard/internal/usecase"
	"github.com/eliteGoblin/focusd/appguard/test/fixtures"
)

const (
	token       = "integration-token"
	fakeAppName = "gamefake"
)

// agent is the real pipeline wired the way "appguard run" wires it.
type agent struct {
	creds   *infra.CredentialStore
	sched   *daemon.Scheduler
	events  *daemon.EventBuffer
	journal *infra.EncryptedJournal
	cancel  context.CancelFunc
	done    chan error
}

func newAgent(authorityURL, cachePath, dataDir string) *agent {
	logger := zap.NewNop()
	authority := infra.NewAuthorityClient(2 * time.Second)
	cache := infra.NewFilePolicyCacheWithPath(cachePath)

	journal, err := infra.OpenJournal(dataDir)
	Expect(err).NotTo(HaveOccurred())

	events := daemon.NewEventBuffer(daemon.DefaultEventCapacity)
	detector := usecase.NewDetector(infra.NewProcessInspector(), policy.NewDeduper(), authority, logger).
		WithObserver(events).
		WithJournal(journal)

	settings := daemon.Settings{
		AuthorityURL:      authorityURL,
		SyncInterval:      time.Hour,
		ScanInterval:      50 * time.Millisecond,
		CredentialBackoff: 20 * time.Millisecond,
		HeartbeatInterval: time.Hour,
	}
	creds := infra.NewCredentialStore()
	sched := daemon.NewScheduler(settings, creds, policy.NewSyncer(authority, cache, logger), detector, "integration-host", logger).
		WithHeartbeat(authority).
		WithObserver(events)

	return &agent{creds: creds, sched: sched, events: events, journal: journal}
}

func (a *agent) start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan error, 1)
	go func() { a.done <- a.sched.Run(ctx) }()
}

func (a *agent) stop() {
	if a.cancel != nil {
		a.cancel()
		Eventually(a.done, 2*time.Second).Should(Receive(MatchError(context.Canceled)))
	}
	a.journal.Close()
}

var _ = Describe("Monitoring pipeline", func() {
	var (
		tmpDir    string
		cachePath string
		authority *fixtures.FakeAuthority
		fake      *fixtures.FakeProcess
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "appguard-integration-*")
		Expect(err).NotTo(HaveOccurred())
		cachePath = filepath.Join(tmpDir, "config", "forbidden_cache.json")

		authority = fixtures.NewFakeAuthority(token, []domain.PolicyEntry{
			{ProcessNamePattern: "GAMEFAKE", Severity: "high"},
		})

		fake, err = fixtures.StartFakeProcess(tmpDir, fakeAppName)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		fake.Stop()
		authority.Close()
		os.RemoveAll(tmpDir)
	})

	Context("without a credential", func() {
		It("does not contact the authority until one is set", func() {
			a := newAgent(authority.URL(), cachePath, filepath.Join(tmpDir, "data"))
			a.start()
			defer a.stop()

			Consistently(authority.PolicyRequests, 300*time.Millisecond, 20*time.Millisecond).Should(BeZero())
			Expect(a.sched.State()).To(Equal(daemon.StateWaitingForCredential))

			a.creds.Set(token)
			Eventually(authority.PolicyRequests, 2*time.Second).Should(BeNumerically(">=", 1))
		})
	})

	Context("with a credential", func() {
		It("reports a running forbidden process exactly once", func() {
			a := newAgent(authority.URL(), cachePath, filepath.Join(tmpDir, "data"))
			a.creds.Set(token)
			a.start()
			defer a.stop()

			Eventually(func() int { return authority.AlertsForPID(fake.PID()) }, 5*time.Second).Should(Equal(1))
			Consistently(func() int { return authority.AlertsForPID(fake.PID()) }, 500*time.Millisecond).Should(Equal(1))

			alerts := authority.Alerts()
			Expect(alerts[0].AppDetected).To(Equal(fakeAppName))
			Expect(alerts[0].Severity).To(Equal("high"))
			Expect(alerts[0].DeviceID).To(Equal("integration-host"))

			Expect(authority.Heartbeats()).To(BeNumerically(">=", 1))
			Expect(a.sched.Status().ReportedPIDs).To(BeNumerically(">=", 1))

			records, err := a.journal.Recent(10)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).NotTo(BeEmpty())
			Expect(records[0].Status).To(Equal(domain.ReportSent))
		})

		It("writes the synced policy to the cache", func() {
			a := newAgent(authority.URL(), cachePath, filepath.Join(tmpDir, "data"))
			a.creds.Set(token)
			a.start()
			defer a.stop()

			Eventually(func() int {
				p, _ := infra.NewFilePolicyCacheWithPath(cachePath).Load()
				return p.Len()
			}, 2*time.Second).Should(Equal(1))
		})
	})

	Context("when the authority stops serving the policy", func() {
		It("keeps enforcing the cached policy", func() {
			first := newAgent(authority.URL(), cachePath, filepath.Join(tmpDir, "data1"))
			first.creds.Set(token)
			first.start()
			Eventually(func() int { return authority.AlertsForPID(fake.PID()) }, 5*time.Second).Should(Equal(1))
			first.stop()

			before, err := os.ReadFile(cachePath)
			Expect(err).NotTo(HaveOccurred())

			authority.SetPolicyDown(true)

			// A restarted agent has an empty ReportedSet and must report again
			second := newAgent(authority.URL(), cachePath, filepath.Join(tmpDir, "data2"))
			second.creds.Set(token)
			second.start()
			defer second.stop()

			Eventually(func() int { return authority.AlertsForPID(fake.PID()) }, 5*time.Second).Should(Equal(2))
			Expect(second.sched.Status().LastSyncSource).To(Equal(string(domain.SourceCache)))
			Expect(second.sched.Policy().Len()).To(Equal(1))

			after, err := os.ReadFile(cachePath)
			Expect(err).NotTo(HaveOccurred())
			Expect(after).To(Equal(before))
		})
	})

	Context("through the control server", func() {
		It("accepts a credential and exposes status", func() {
			dataDir := filepath.Join(tmpDir, "data")
			a := newAgent(authority.URL(), cachePath, dataDir)
			secret, err := daemon.WriteControlSecret(dataDir)
			Expect(err).NotTo(HaveOccurred())
			control := daemon.NewControlServer("127.0.0.1:0", a.creds, a.sched, a.events, nil, zap.NewNop()).
				WithSecret(secret)
			Expect(control.Start()).To(Succeed())
			defer control.Shutdown(context.Background())

			a.start()
			defer a.stop()

			Expect(daemon.NewControlClient(control.Addr()).SetCredential(context.Background(), "stolen")).NotTo(Succeed())

			stored, err := daemon.ReadControlSecret(dataDir)
			Expect(err).NotTo(HaveOccurred())
			client := daemon.NewControlClient(control.Addr()).WithSecret(stored)
			Expect(client.SetCredential(context.Background(), token)).To(Succeed())

			Eventually(func() int { return authority.AlertsForPID(fake.PID()) }, 5*time.Second).Should(Equal(1))

			Eventually(func() []daemon.Event {
				st, err := client.Status(context.Background())
				if err != nil {
					return nil
				}
				return st.RecentEvents
			}, 2*time.Second).Should(ContainElement(HaveField("Type", daemon.EventViolationDetected)))

			st, err := client.Status(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(st.HasCredential).To(BeTrue())
			Expect(st.PolicyEntries).To(Equal(1))
		})
	})
})
