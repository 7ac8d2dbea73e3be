//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/wwakabobik/macos-selfblocker/internal/domain"
	"github.com/wwakabobik/macos-selfblocker/internal/infra"
	"github.com/wwakabobik/macos-selfblocker/internal/schedule"
	"github.com/wwakabobik/macos-selfblocker/internal/usecase"
)

// recordingNotifier captures notifications instead of shelling out to
// osascript.
type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(message, title string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

var _ = Describe("Path enforcement round trip", func() {
	var (
		tmpDir   string
		workDir  string
		deepFile string
		store    *infra.SQLStateStore
		notifier *recordingNotifier
		logPath  string
		desired  domain.DesiredState
		evalErr  error
		rec      *usecase.Reconciler
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "workblocker-integration-*")
		Expect(err).NotTo(HaveOccurred())

		workDir = filepath.Join(tmpDir, "work")
		deepFile = filepath.Join(workDir, "sub", "deep.txt")
		Expect(os.MkdirAll(filepath.Join(workDir, "sub"), 0755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(workDir, "notes.txt"), []byte("notes"), 0644)).To(Succeed())
		Expect(os.WriteFile(deepFile, []byte("secret"), 0600)).To(Succeed())
		Expect(os.Chmod(filepath.Join(workDir, "sub"), 0700)).To(Succeed())

		key, err := infra.GenerateKey()
		Expect(err).NotTo(HaveOccurred())
		store, err = infra.NewStateStore(filepath.Join(tmpDir, "state"), key)
		Expect(err).NotTo(HaveOccurred())

		logPath = filepath.Join(tmpDir, "logbook.txt")
		notifier = &recordingNotifier{}
		desired = domain.StateUnblocked
		evalErr = nil

		logger := zap.NewNop()
		fs := infra.NewFileSystemManager()
		enforcer := usecase.NewPathEnforcer(
			[]domain.PathTarget{{Path: workDir}}, fs, store, logger)
		eval := func(time.Time) (domain.DesiredState, error) {
			return desired, evalErr
		}
		rec = usecase.NewReconciler(eval,
			[]domain.Enforcer{enforcer},
			infra.NewFileLogbook(logPath), notifier, logger)
	})

	AfterEach(func() {
		store.Close()
		// Unlock anything still blocked so the temp dir can be removed.
		filepath.WalkDir(tmpDir, func(path string, d os.DirEntry, err error) error {
			if err == nil && d.IsDir() {
				os.Chmod(path, 0755)
			}
			return nil
		})
		os.RemoveAll(tmpDir)
	})

	reconcile := func() *domain.Report {
		report, err := rec.Reconcile(context.Background(), time.Now())
		Expect(err).NotTo(HaveOccurred())
		return report
	}

	perm := func(path string) os.FileMode {
		info, err := os.Stat(path)
		Expect(err).NotTo(HaveOccurred())
		return info.Mode().Perm()
	}

	Describe("blocking", func() {
		It("clears permissions, records original modes and notifies once", func() {
			desired = domain.StateBlocked
			report := reconcile()

			Expect(report.Desired).To(Equal(domain.StateBlocked))
			Expect(report.Count(domain.OutcomeChanged)).To(Equal(1))
			Expect(perm(workDir)).To(Equal(os.FileMode(0)))

			record, err := store.PathRecord(workDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(record).NotTo(BeNil())
			Expect(record.Modes).To(HaveKeyWithValue(".", uint32(0755)))
			Expect(record.Modes).To(HaveKeyWithValue("sub", uint32(0700)))
			Expect(record.Modes).To(HaveKeyWithValue(filepath.Join("sub", "deep.txt"), uint32(0600)))

			data, err := os.ReadFile(logPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring("block " + workDir))

			Expect(notifier.all()).To(HaveLen(1))
			Expect(notifier.all()[0]).To(ContainSubstring("blocked"))
		})

		It("is idempotent across cycles", func() {
			desired = domain.StateBlocked
			reconcile()
			report := reconcile()

			Expect(report.Count(domain.OutcomeChanged)).To(BeZero())
			Expect(notifier.all()).To(HaveLen(1))
		})
	})

	Describe("unblocking", func() {
		It("restores the exact prior modes and clears the record", func() {
			desired = domain.StateBlocked
			reconcile()

			desired = domain.StateUnblocked
			report := reconcile()

			Expect(report.Count(domain.OutcomeChanged)).To(Equal(1))
			Expect(perm(workDir)).To(Equal(os.FileMode(0755)))
			Expect(perm(filepath.Join(workDir, "sub"))).To(Equal(os.FileMode(0700)))
			Expect(perm(deepFile)).To(Equal(os.FileMode(0600)))

			record, err := store.PathRecord(workDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(record).To(BeNil())

			messages := notifier.all()
			Expect(messages).To(HaveLen(2))
			Expect(messages[1]).To(ContainSubstring("restored"))
		})
	})

	Describe("fail-closed behavior", func() {
		It("blocks when the schedule cannot be evaluated", func() {
			evalErr = domain.NewConfigError("schedule file is unreadable")
			report := reconcile()

			Expect(report.FailClosed).To(BeTrue())
			Expect(report.Desired).To(Equal(domain.StateBlocked))
			Expect(perm(workDir)).To(Equal(os.FileMode(0)))

			data, err := os.ReadFile(logPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring("fail-closed"))
		})
	})
})

var _ = Describe("Schedule driven reconciliation", func() {
	// Work hours Monday through Friday, 09:00 to 18:00.
	const workWeek = `{
		"intervals": [
			{"days": [2, 3, 4, 5, 6],
			 "start": {"Hour": 9}, "end": {"Hour": 18}}
		]
	}`

	var week *schedule.Week

	BeforeEach(func() {
		spec, err := schedule.Parse([]byte(workWeek))
		Expect(err).NotTo(HaveOccurred())
		week, err = spec.Normalize()
		Expect(err).NotTo(HaveOccurred())
	})

	It("unblocks during work hours and blocks outside them", func() {
		monday := time.Date(2026, 8, 24, 0, 0, 0, 0, time.Local)

		Expect(week.DesiredState(monday.Add(10 * time.Hour))).To(Equal(domain.StateUnblocked))
		Expect(week.DesiredState(monday.Add(20 * time.Hour))).To(Equal(domain.StateBlocked))

		saturday := monday.Add(5 * 24 * time.Hour)
		Expect(week.DesiredState(saturday.Add(10 * time.Hour))).To(Equal(domain.StateBlocked))
	})

	It("emits one launchd trigger pair per work day", func() {
		unblock, block := week.TriggerPoints()
		Expect(unblock).To(HaveLen(5))
		Expect(block).To(HaveLen(5))
		Expect(unblock[0]).To(Equal(domain.TriggerPoint{Weekday: 2, Hour: 9, Minute: 0}))
		Expect(block[0]).To(Equal(domain.TriggerPoint{Weekday: 2, Hour: 18, Minute: 0}))
	})
})
