package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/caravan/internal/coordinator"
	"github.com/temirov/caravan/internal/discovery"
	"github.com/temirov/caravan/internal/dispatch"
	"github.com/temirov/caravan/internal/execshell"
	"github.com/temirov/caravan/internal/geicli"
	"github.com/temirov/caravan/internal/githubcli"
	"github.com/temirov/caravan/internal/metrics"
	"github.com/temirov/caravan/internal/notify"
	"github.com/temirov/caravan/internal/progress"
	"github.com/temirov/caravan/internal/reconcile"
	"github.com/temirov/caravan/internal/server"
	"github.com/temirov/caravan/internal/state"
	flagutils "github.com/temirov/caravan/internal/utils/flags"
	pathutils "github.com/temirov/caravan/internal/utils/path"
	"github.com/temirov/caravan/internal/worker"
)

const (
	serveCommandUseConstant              = "serve"
	serveCommandShortDescriptionConstant = "Run the migration coordinator until interrupted"
	serveCommandLongDescriptionConstant  = "serve restores the migration state file and drives the reconcile, dispatch, and progress workers alongside the HTTP API until an interrupt arrives. An empty state file is seeded from the source organization first."

	serveSourceOrganizationMissingMessageConstant = "source organization is not configured"
	serveTargetOrganizationMissingMessageConstant = "target organization is not configured"
	serveStateFilePathMissingMessageConstant      = "state file path is not configured"

	reconcileTaskNameConstant = "reconcile"
	dispatchTaskNameConstant  = "dispatch"
	progressTaskNameConstant  = "progress"

	eventSubscriberBufferConstant = 64
	shutdownTimeoutConstant       = 10 * time.Second

	servingLogMessageConstant           = "serving migrations"
	shutdownRequestedLogMessageConstant = "shutdown requested"
	apiDisabledLogMessageConstant       = "http api disabled"
	stateFileLogFieldNameConstant       = "state_file"
)

// serveCommandBuilder assembles the serve cobra command, wiring the full
// migration machinery from the resolved configuration.
type serveCommandBuilder struct {
	LoggerProvider               func() *zap.Logger
	ConfigurationProvider        func() ApplicationConfiguration
	HumanReadableLoggingProvider func() bool
	HomeExpander                 *pathutils.HomeExpander
}

// migrationProcess bundles the assembled coordinator with the event
// subscription feeding the metrics collector.
type migrationProcess struct {
	coordinator        *coordinator.Coordinator
	collector          *metrics.Collector
	events             <-chan notify.Event
	cancelSubscription func()
}

// Build constructs the cobra command that runs the coordinator.
func (builder *serveCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   serveCommandUseConstant,
		Short: serveCommandShortDescriptionConstant,
		Long:  serveCommandLongDescriptionConstant,
		Args:  cobra.NoArgs,
		RunE:  builder.run,
	}
	command.Flags().String(flagutils.StateFileFlagName, "", flagutils.StateFileFlagUsage)
	command.Flags().String(flagutils.AddressFlagName, "", flagutils.AddressFlagUsage)
	return command, nil
}

func (builder *serveCommandBuilder) run(command *cobra.Command, _ []string) error {
	configuration := builder.resolveConfiguration()
	if len(strings.TrimSpace(configuration.Migration.Source.Organization)) == 0 {
		return errors.New(serveSourceOrganizationMissingMessageConstant)
	}
	if len(strings.TrimSpace(configuration.Migration.Target.Organization)) == 0 {
		return errors.New(serveTargetOrganizationMissingMessageConstant)
	}
	stateFilePath := builder.resolveStateFilePath(command, configuration)
	if len(stateFilePath) == 0 {
		return errors.New(serveStateFilePathMissingMessageConstant)
	}

	logger := builder.resolveLogger()
	listenAddress := builder.resolveListenAddress(command, configuration.Server)
	process, assemblyError := builder.assembleProcess(logger, configuration, stateFilePath, listenAddress)
	if assemblyError != nil {
		return assemblyError
	}
	go process.collector.ConsumeEvents(process.events)

	runContext, stopNotifying := signal.NotifyContext(command.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopNotifying()

	if startError := process.coordinator.Start(runContext); startError != nil {
		process.cancelSubscription()
		return startError
	}
	logger.Info(servingLogMessageConstant, zap.String(stateFileLogFieldNameConstant, stateFilePath))

	<-runContext.Done()
	logger.Info(shutdownRequestedLogMessageConstant)

	shutdownContext, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeoutConstant)
	defer cancelShutdown()

	stopError := process.coordinator.Stop(shutdownContext)
	process.cancelSubscription()
	return stopError
}

func (builder *serveCommandBuilder) assembleProcess(logger *zap.Logger, configuration ApplicationConfiguration, stateFilePath string, listenAddress string) (migrationProcess, error) {
	documentFile, documentFileError := state.NewDocumentFile(stateFilePath)
	if documentFileError != nil {
		return migrationProcess{}, documentFileError
	}
	store := state.NewStore(nil, configuration.Migration.Labels())
	broker := notify.NewBroker(eventSubscriberBufferConstant)

	metricsRegistry := prometheus.NewRegistry()
	collector, collectorError := metrics.NewCollector(metrics.CollectorDependencies{
		Counter:    store,
		Registerer: metricsRegistry,
	})
	if collectorError != nil {
		return migrationProcess{}, collectorError
	}

	saveScheduler, schedulerError := state.NewSaveScheduler(state.SaveSchedulerDependencies{
		Source:       store,
		Writer:       documentFile,
		Logger:       logger,
		SaveInterval: configuration.Migration.SaveInterval,
		Observer:     collector,
	})
	if schedulerError != nil {
		return migrationProcess{}, schedulerError
	}

	executor, executorError := execshell.NewShellExecutor(logger, execshell.NewOSCommandRunner(), builder.resolveHumanReadableLogging())
	if executorError != nil {
		return migrationProcess{}, executorError
	}
	executor.RegisterCommandEventObserver(collector)

	githubClient, githubClientError := githubcli.NewClient(executor)
	if githubClientError != nil {
		return migrationProcess{}, githubClientError
	}
	importerClient, importerClientError := geicli.NewClient(executor)
	if importerClientError != nil {
		return migrationProcess{}, importerClientError
	}

	discoveryService, discoveryError := discovery.NewService(discovery.ServiceDependencies{
		Logger:    logger,
		Store:     store,
		Lister:    githubClient,
		Publisher: broker,
		Saver:     saveScheduler,
	})
	if discoveryError != nil {
		return migrationProcess{}, discoveryError
	}

	reconcileService, reconcileError := reconcile.NewService(reconcile.ServiceDependencies{
		Logger:    logger,
		Store:     store,
		Inspector: githubClient,
		Publisher: broker,
		Saver:     saveScheduler,
		Settings:  reconcile.ServiceSettings{BatchSize: configuration.Migration.ReconcileBatchSize},
	})
	if reconcileError != nil {
		return migrationProcess{}, reconcileError
	}

	dispatchService, dispatchError := dispatch.NewService(dispatch.ServiceDependencies{
		Logger:    logger,
		Store:     store,
		Starter:   importerClient,
		Publisher: broker,
		Saver:     saveScheduler,
		Settings: dispatch.ServiceSettings{
			QueueCeiling: configuration.Migration.QueueCeiling,
			BusyInterval: configuration.Migration.DispatchBusyInterval,
			IdleInterval: configuration.Migration.DispatchIdleInterval,
		},
	})
	if dispatchError != nil {
		return migrationProcess{}, dispatchError
	}

	progressService, progressError := progress.NewService(progress.ServiceDependencies{
		Logger:    logger,
		Store:     store,
		Monitor:   githubClient,
		Publisher: broker,
		Saver:     saveScheduler,
		Settings: progress.ServiceSettings{
			PollConcurrency: configuration.Migration.PollConcurrency,
			GracePeriod:     configuration.Migration.PollGracePeriod,
		},
	})
	if progressError != nil {
		return migrationProcess{}, progressError
	}

	reconcileLoop, reconcileLoopError := worker.NewLoop(worker.LoopDependencies{
		TaskName:     reconcileTaskNameConstant,
		Handler:      reconcileService,
		Logger:       logger,
		BaseInterval: configuration.Migration.ReconcileInterval,
	})
	if reconcileLoopError != nil {
		return migrationProcess{}, reconcileLoopError
	}
	dispatchLoop, dispatchLoopError := worker.NewLoop(worker.LoopDependencies{
		TaskName:     dispatchTaskNameConstant,
		Handler:      dispatchService,
		Logger:       logger,
		BaseInterval: configuration.Migration.DispatchIdleInterval,
	})
	if dispatchLoopError != nil {
		return migrationProcess{}, dispatchLoopError
	}
	progressLoop, progressLoopError := worker.NewLoop(worker.LoopDependencies{
		TaskName:     progressTaskNameConstant,
		Handler:      progressService,
		Logger:       logger,
		BaseInterval: configuration.Migration.PollInterval,
	})
	if progressLoopError != nil {
		return migrationProcess{}, progressLoopError
	}

	retryService, retryServiceError := coordinator.NewRetryService(coordinator.RetryServiceDependencies{
		Logger:              logger,
		Store:               store,
		Deleter:             githubClient,
		Publisher:           broker,
		Saver:               saveScheduler,
		DispatchPrioritizer: dispatchService,
		DispatchKicker:      dispatchLoop,
		ReconcileKicker:     reconcileLoop,
	})
	if retryServiceError != nil {
		return migrationProcess{}, retryServiceError
	}

	coordinatorDependencies := coordinator.CoordinatorDependencies{
		Logger:        logger,
		Loader:        documentFile,
		Store:         store,
		Seeder:        discoveryService,
		Persistence:   saveScheduler,
		ReconcileLoop: reconcileLoop,
		DispatchLoop:  dispatchLoop,
		ProgressLoop:  progressLoop,
		Broker:        broker,
	}
	if configuration.Server.Enabled {
		apiServer, serverError := server.NewServer(server.Dependencies{
			Logger:         logger,
			Store:          store,
			Retrier:        retryService,
			Subscriber:     broker,
			MetricsHandler: promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}),
			Address:        listenAddress,
		})
		if serverError != nil {
			return migrationProcess{}, serverError
		}
		coordinatorDependencies.Server = apiServer
	} else {
		logger.Info(apiDisabledLogMessageConstant)
	}

	migrationCoordinator, coordinatorError := coordinator.NewCoordinator(coordinatorDependencies)
	if coordinatorError != nil {
		return migrationProcess{}, coordinatorError
	}

	events, cancelSubscription := broker.Subscribe()
	return migrationProcess{
		coordinator:        migrationCoordinator,
		collector:          collector,
		events:             events,
		cancelSubscription: cancelSubscription,
	}, nil
}

func (builder *serveCommandBuilder) resolveStateFilePath(command *cobra.Command, configuration ApplicationConfiguration) string {
	flagValue, _ := command.Flags().GetString(flagutils.StateFileFlagName)
	stateFilePath := strings.TrimSpace(flagValue)
	if len(stateFilePath) == 0 {
		stateFilePath = strings.TrimSpace(configuration.Migration.StateFile)
	}
	if len(stateFilePath) == 0 {
		return ""
	}
	return builder.resolveHomeExpander().Expand(stateFilePath)
}

func (builder *serveCommandBuilder) resolveListenAddress(command *cobra.Command, configuration ServerConfiguration) string {
	flagValue, _ := command.Flags().GetString(flagutils.AddressFlagName)
	listenAddress := strings.TrimSpace(flagValue)
	if len(listenAddress) == 0 {
		listenAddress = strings.TrimSpace(configuration.Address)
	}
	return listenAddress
}

func (builder *serveCommandBuilder) resolveLogger() *zap.Logger {
	if builder.LoggerProvider == nil {
		return zap.NewNop()
	}
	logger := builder.LoggerProvider()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func (builder *serveCommandBuilder) resolveConfiguration() ApplicationConfiguration {
	if builder.ConfigurationProvider == nil {
		return ApplicationConfiguration{}
	}
	return builder.ConfigurationProvider()
}

func (builder *serveCommandBuilder) resolveHumanReadableLogging() bool {
	if builder.HumanReadableLoggingProvider == nil {
		return false
	}
	return builder.HumanReadableLoggingProvider()
}

func (builder *serveCommandBuilder) resolveHomeExpander() *pathutils.HomeExpander {
	if builder.HomeExpander == nil {
		return pathutils.NewHomeExpander()
	}
	return builder.HomeExpander
}
