package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/temirov/caravan/internal/execshell"
	"github.com/temirov/caravan/internal/notify"
	"github.com/temirov/caravan/internal/state"
)

const (
	metricNamespaceConstant                = "caravan"
	migrationSubsystemConstant             = "migration"
	commandSubsystemConstant               = "command"
	stateSubsystemConstant                 = "state"
	eventsMetricNameConstant               = "events_total"
	eventsMetricHelpConstant               = "Number of repository lifecycle events by reason."
	repositoriesMetricNameConstant         = "repositories"
	repositoriesMetricHelpConstant         = "Current number of tracked repositories per status."
	executionsMetricNameConstant           = "executions_total"
	executionsMetricHelpConstant           = "Number of external commands started."
	commandFailuresMetricNameConstant      = "failures_total"
	commandFailuresMetricHelpConstant      = "Number of external commands that exited non-zero or could not run."
	savesMetricNameConstant                = "saves_total"
	savesMetricHelpConstant                = "Number of state file writes by result."
	reasonLabelNameConstant                = "reason"
	statusLabelNameConstant                = "status"
	commandLabelNameConstant               = "command"
	resultLabelNameConstant                = "result"
	saveResultSuccessConstant              = "success"
	saveResultFailureConstant              = "failure"
	counterSourceNotConfiguredMsg          = "status counter source not configured"
	fullyQualifiedRepositoriesNameConstant = "caravan_migration_repositories"
)

// ErrCounterSourceNotConfigured indicates the collector was constructed
// without a status counter source.
var ErrCounterSourceNotConfigured = errors.New(counterSourceNotConfiguredMsg)

// StatusCounter supplies the per-status repository tallies exported as a
// gauge.
type StatusCounter interface {
	CountsByStatus() map[state.Status]int
}

// CollectorDependencies carries the collaborators required by NewCollector.
// A nil Registerer falls back to the default Prometheus registerer.
type CollectorDependencies struct {
	Counter    StatusCounter
	Registerer prometheus.Registerer
}

// Collector exports migration activity to Prometheus. It counts lifecycle
// events, tallies external command executions as an executor observer, counts
// state file writes as a save observer, and exposes the per-status repository
// counts as a gauge computed at scrape time.
type Collector struct {
	counter          StatusCounter
	eventsTotal      *prometheus.CounterVec
	executionsTotal  *prometheus.CounterVec
	commandFailures  *prometheus.CounterVec
	savesTotal       *prometheus.CounterVec
	repositoriesDesc *prometheus.Desc
}

// NewCollector validates the dependencies, builds the metric vectors, and
// registers everything with the registerer. Registration tolerates metrics
// that are already registered so repeated construction against the default
// registerer stays safe.
func NewCollector(dependencies CollectorDependencies) (*Collector, error) {
	if dependencies.Counter == nil {
		return nil, ErrCounterSourceNotConfigured
	}
	registerer := dependencies.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	collectorInstance := &Collector{
		counter: dependencies.Counter,
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespaceConstant,
				Subsystem: migrationSubsystemConstant,
				Name:      eventsMetricNameConstant,
				Help:      eventsMetricHelpConstant,
			}, []string{reasonLabelNameConstant},
		),
		executionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespaceConstant,
				Subsystem: commandSubsystemConstant,
				Name:      executionsMetricNameConstant,
				Help:      executionsMetricHelpConstant,
			}, []string{commandLabelNameConstant},
		),
		commandFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespaceConstant,
				Subsystem: commandSubsystemConstant,
				Name:      commandFailuresMetricNameConstant,
				Help:      commandFailuresMetricHelpConstant,
			}, []string{commandLabelNameConstant},
		),
		savesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespaceConstant,
				Subsystem: stateSubsystemConstant,
				Name:      savesMetricNameConstant,
				Help:      savesMetricHelpConstant,
			}, []string{resultLabelNameConstant},
		),
		repositoriesDesc: prometheus.NewDesc(
			fullyQualifiedRepositoriesNameConstant,
			repositoriesMetricHelpConstant,
			[]string{statusLabelNameConstant},
			nil,
		),
	}

	registrationCandidates := []prometheus.Collector{
		collectorInstance.eventsTotal,
		collectorInstance.executionsTotal,
		collectorInstance.commandFailures,
		collectorInstance.savesTotal,
		collectorInstance,
	}
	for _, registrationCandidate := range registrationCandidates {
		registrationError := registerer.Register(registrationCandidate)
		if registrationError != nil {
			var alreadyRegistered prometheus.AlreadyRegisteredError
			if errors.As(registrationError, &alreadyRegistered) {
				continue
			}
			return nil, registrationError
		}
	}
	return collectorInstance, nil
}

// ConsumeEvents counts lifecycle events from the subscription channel until
// it is closed. Run it on its own goroutine.
func (collector *Collector) ConsumeEvents(events <-chan notify.Event) {
	for receivedEvent := range events {
		collector.eventsTotal.WithLabelValues(string(receivedEvent.Reason)).Inc()
	}
}

// Describe implements prometheus.Collector for the repositories gauge.
func (collector *Collector) Describe(descriptions chan<- *prometheus.Desc) {
	descriptions <- collector.repositoriesDesc
}

// Collect implements prometheus.Collector by reading the per-status tallies
// at scrape time. Every recognized status is emitted so series do not vanish
// when a count drops to zero.
func (collector *Collector) Collect(metricsChannel chan<- prometheus.Metric) {
	statusCounts := collector.counter.CountsByStatus()
	for _, recognizedStatus := range state.AllStatuses() {
		metricsChannel <- prometheus.MustNewConstMetric(
			collector.repositoriesDesc,
			prometheus.GaugeValue,
			float64(statusCounts[recognizedStatus]),
			string(recognizedStatus),
		)
	}
}

// CommandStarted implements execshell.CommandEventObserver.
func (collector *Collector) CommandStarted(command execshell.ShellCommand) {
	collector.executionsTotal.WithLabelValues(string(command.Name)).Inc()
}

// CommandCompleted implements execshell.CommandEventObserver, counting
// non-zero exits as failures.
func (collector *Collector) CommandCompleted(command execshell.ShellCommand, result execshell.ExecutionResult) {
	if result.ExitCode != 0 {
		collector.commandFailures.WithLabelValues(string(command.Name)).Inc()
	}
}

// CommandExecutionFailed implements execshell.CommandEventObserver.
func (collector *Collector) CommandExecutionFailed(command execshell.ShellCommand, _ error) {
	collector.commandFailures.WithLabelValues(string(command.Name)).Inc()
}

// SaveCompleted implements state.SaveObserver, counting each write attempt by
// result.
func (collector *Collector) SaveCompleted(saveError error) {
	saveResult := saveResultSuccessConstant
	if saveError != nil {
		saveResult = saveResultFailureConstant
	}
	collector.savesTotal.WithLabelValues(saveResult).Inc()
}
