package main

import (
	"flag"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/Apillon/blockchain-service/alert"
	"github.com/Apillon/blockchain-service/api"
	"github.com/Apillon/blockchain-service/chains"
	"github.com/Apillon/blockchain-service/db"
	"github.com/Apillon/blockchain-service/dbtypes"
	"github.com/Apillon/blockchain-service/services"
	"github.com/Apillon/blockchain-service/types"
	"github.com/Apillon/blockchain-service/utils"
)

func main() {
	configPath := flag.String("config", "", "Path to the config file")
	jobs := flag.String("job", "all", "Comma separated jobs to run (transmit, reconcile, confirm, webhooks, balances, all)")
	chainFilter := flag.String("chain", "", "Restrict chain jobs to a single chain name")
	runOnce := flag.Bool("once", false, "Run each selected job once and exit instead of scheduling")
	flag.Parse()

	cfg := &types.Config{}
	err := utils.ReadConfig(cfg, *configPath)
	if err != nil {
		logger.Fatalf("error reading config file: %v", err)
	}
	utils.Config = cfg

	logWriter := utils.InitLogger()
	defer logWriter.Dispose()

	database, err := db.NewDatabase(cfg)
	if err != nil {
		utils.LogFatal(err, "error initializing database", 0)
	}
	defer database.Close()

	err = database.ApplyEmbeddedDbSchema(-2)
	if err != nil {
		utils.LogFatal(err, "error applying db schema", 0)
	}

	registry := chains.NewRegistry(database)
	alerter := buildAlerter(cfg)

	queueService := services.NewQueueService(database)
	transmitter := services.NewTransmitter(database, registry, cfg.Transmitter.MaxPerWallet, cfg.Chains.RpcTimeout)
	nonceMonitor := services.NewNonceMonitor(database, registry, alerter, cfg.NonceMonitor.StallThreshold, cfg.Chains.RpcTimeout)
	confirmer := services.NewConfirmer(database, registry, cfg.Chains.RpcTimeout)
	walletService := services.NewWalletService(database, registry, alerter, cfg.Chains.RpcTimeout)
	webhookDispatcher := services.NewWebhookDispatcher(
		database, cfg.Webhooks.DefaultUrl, consumerMap(cfg), cfg.Webhooks.BatchSize,
		cfg.Webhooks.SendTimeout, cfg.Webhooks.AuthHeaders)

	selectedJobs := parseJobs(*jobs)

	runner := &jobRunner{
		database:          database,
		chainFilter:       *chainFilter,
		transmitter:       transmitter,
		nonceMonitor:      nonceMonitor,
		confirmer:         confirmer,
		walletService:     walletService,
		webhookDispatcher: webhookDispatcher,
	}

	if *runOnce {
		runner.runSelected(selectedJobs)
		return
	}

	if selectedJobs["transmit"] && cfg.Transmitter.Enabled {
		go runner.schedule("transmit", cfg.Transmitter.Interval, runner.runTransmit)
	}
	if selectedJobs["reconcile"] && cfg.NonceMonitor.Enabled {
		go runner.schedule("reconcile", cfg.NonceMonitor.Interval, runner.runReconcile)
	}
	if selectedJobs["confirm"] && cfg.Confirmer.Enabled {
		go runner.schedule("confirm", cfg.Confirmer.Interval, runner.runConfirm)
	}
	if selectedJobs["webhooks"] && cfg.Webhooks.Enabled {
		go runner.schedule("webhooks", cfg.Webhooks.Interval, runner.runWebhooks)
	}
	if selectedJobs["balances"] {
		go runner.schedule("balances", cfg.NonceMonitor.Interval, runner.runBalances)
	}

	if cfg.Api.Enabled {
		err = api.StartServer(cfg, queueService)
		if err != nil {
			utils.LogFatal(err, "error starting api server", 0)
		}
	}

	utils.WaitForCtrlC()
	logger.Println("exiting...")
}

func buildAlerter(cfg *types.Config) alert.Alerter {
	alerters := []alert.Alerter{&alert.LogAlerter{}}
	if cfg.Alerting.WebhookUrl != "" {
		alerters = append(alerters, alert.NewWebhookAlerter(cfg.Alerting.WebhookUrl))
	}
	cooldown := cfg.Alerting.Cooldown
	if cooldown == 0 {
		cooldown = 1 * time.Hour
	}
	return alert.NewMultiAlerter(cooldown, alerters...)
}

func consumerMap(cfg *types.Config) map[string]string {
	consumers := map[string]string{}
	for _, consumer := range cfg.Webhooks.Consumers {
		consumers[consumer.ReferenceTable] = consumer.Url
	}
	return consumers
}

func parseJobs(jobsArg string) map[string]bool {
	selected := map[string]bool{}
	for _, job := range strings.Split(jobsArg, ",") {
		job = strings.TrimSpace(strings.ToLower(job))
		if job == "all" {
			return map[string]bool{
				"transmit": true, "reconcile": true, "confirm": true,
				"webhooks": true, "balances": true,
			}
		}
		if job != "" {
			selected[job] = true
		}
	}
	return selected
}

type jobRunner struct {
	database          *db.Database
	chainFilter       string
	transmitter       *services.Transmitter
	nonceMonitor      *services.NonceMonitor
	confirmer         *services.Confirmer
	walletService     *services.WalletService
	webhookDispatcher *services.WebhookDispatcher
}

func (jr *jobRunner) schedule(name string, interval time.Duration, fn func()) {
	defer utils.HandleSubroutinePanic("jobRunner.schedule." + name)

	if interval == 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fn()
	for range ticker.C {
		fn()
	}
}

func (jr *jobRunner) runSelected(selectedJobs map[string]bool) {
	if selectedJobs["transmit"] {
		jr.runTransmit()
	}
	if selectedJobs["confirm"] {
		jr.runConfirm()
	}
	if selectedJobs["reconcile"] {
		jr.runReconcile()
	}
	if selectedJobs["webhooks"] {
		jr.runWebhooks()
	}
	if selectedJobs["balances"] {
		jr.runBalances()
	}
}

// eachChain invokes fn for every configured chain (or just the filtered
// one), isolating per-chain failures from each other.
func (jr *jobRunner) eachChain(jobName string, fn func(chain string, chainType dbtypes.ChainType) error) {
	for _, endpoint := range jr.database.GetDistinctChains() {
		if jr.chainFilter != "" && endpoint.Chain != jr.chainFilter {
			continue
		}
		err := fn(endpoint.Chain, endpoint.ChainType)
		if err != nil {
			logger.WithField("chain", endpoint.Chain).Errorf("%v job failed: %v", jobName, err)
		}
	}
}

func (jr *jobRunner) runTransmit() {
	jr.eachChain("transmit", jr.transmitter.Run)
}

func (jr *jobRunner) runConfirm() {
	jr.eachChain("confirm", jr.confirmer.Run)
}

func (jr *jobRunner) runReconcile() {
	// reconciliation is keyed by chain name only, dedupe the type pairs
	seen := map[string]bool{}
	jr.eachChain("reconcile", func(chain string, chainType dbtypes.ChainType) error {
		if seen[chain] {
			return nil
		}
		seen[chain] = true
		return jr.nonceMonitor.Run(chain)
	})
}

func (jr *jobRunner) runWebhooks() {
	err := jr.webhookDispatcher.Run()
	if err != nil {
		logger.Errorf("webhooks job failed: %v", err)
	}
}

func (jr *jobRunner) runBalances() {
	err := jr.walletService.CheckBalances(jr.chainFilter)
	if err != nil {
		logger.Errorf("balances job failed: %v", err)
	}
}
