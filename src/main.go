package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"dictstore/src/backends"
	"dictstore/src/backends/memory"
	"dictstore/src/backends/mongodb"
	"dictstore/src/backends/postgres"
	"dictstore/src/directors"
	"dictstore/src/migration"
	"dictstore/src/models"
	"dictstore/src/settings"

	"go.uber.org/zap"
)

// printUsage prints helpful usage information
func printUsage() {
	log.Println("dictstore - runtime dictionary storage across engines")
	log.Println("\nUsage:")
	log.Println("  dictstore [options]")
	log.Println("\nOptions:")
	flag.PrintDefaults()

	log.Println("\nExamples:")
	log.Println("  dictstore --postgres='postgres://localhost/dicts' --migrations=./migrations")
	log.Println("  dictstore --mongo='mongodb://localhost:27017' --mongodb=dicts --defaultengine=mongo")
}

func main() {
	args := settings.GetSettings()

	flag.StringVar(&args.MongoURI, "mongo", "", "Mongo connection URI (empty disables the mongo engine)")
	flag.StringVar(&args.MongoDatabase, "mongodb", "dictstore", "Mongo database name")
	flag.StringVar(&args.PostgresDSN, "postgres", "", "Postgres DSN (empty disables the postgres engine)")
	flag.StringVar(&args.DefaultEngine, "defaultengine", args.DefaultEngine, "Engine for new dictionaries")
	flag.StringVar(&args.MetaEngine, "metaengine", args.MetaEngine, "Engine holding dict metadata and the version log")
	flag.StringVar(&args.MigrationDir, "migrations", args.MigrationDir, "Directory with versioned migration scripts")
	flag.BoolVar(&args.Verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&args.Debug, "debug", false, "Enable debug mode")
	flag.Parse()

	if err := validateArguments(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n\n", err)
		printUsage()
		os.Exit(1)
	}

	var logger *zap.Logger
	var err error
	if args.Debug {
		z := zap.NewDevelopmentConfig()
		z.OutputPaths = []string{"stdout"}
		logger, err = z.Build()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	ctx := context.Background()
	if err := run(ctx, args, sugar); err != nil {
		sugar.Fatalf("startup failed: %v", err)
	}
}

func validateArguments(args *settings.Arguments) error {
	engines := map[string]bool{models.EngineMemory: true}
	if args.MongoURI != "" {
		engines[models.EngineMongo] = true
	}
	if args.PostgresDSN != "" {
		engines[models.EnginePostgres] = true
	}
	if !engines[args.DefaultEngine] {
		return fmt.Errorf("default engine '%s' is not configured", args.DefaultEngine)
	}
	if !engines[args.MetaEngine] {
		return fmt.Errorf("meta engine '%s' is not configured", args.MetaEngine)
	}
	return nil
}

// run wires the engines, services and migration machinery, then applies
// pending migration scripts.
func run(ctx context.Context, args *settings.Arguments, sugar *zap.SugaredLogger) error {
	provider := backends.NewProvider()

	// The metadata stores live on the configured meta engine.
	var dictStore backends.DictStore
	var versionStore backends.VersionStore

	type registration struct {
		backend func(backends.TransactionRegistrar) backends.Backend
	}
	var registrations []registration

	if args.PostgresDSN != "" {
		pool, err := postgres.Connect(ctx, args)
		if err != nil {
			return err
		}
		meta := postgres.NewMetaStore(pool, sugar)
		if args.MetaEngine == models.EnginePostgres {
			if err := meta.EnsureSchema(ctx); err != nil {
				return err
			}
			dictStore = meta.DictStore()
			versionStore = meta.VersionStore()
		}
		registrations = append(registrations, registration{
			backend: func(reg backends.TransactionRegistrar) backends.Backend {
				return postgres.NewBackend(pool, reg, sugar, args)
			},
		})
	}

	if args.MongoURI != "" {
		db, err := mongodb.Connect(ctx, args)
		if err != nil {
			return err
		}
		if args.MetaEngine == models.EngineMongo {
			meta := mongodb.NewMetaStore(db, sugar)
			dictStore = meta.DictStore()
			versionStore = meta.VersionStore()
		}
		registrations = append(registrations, registration{
			backend: func(reg backends.TransactionRegistrar) backends.Backend {
				return mongodb.NewBackend(db, reg, sugar, args)
			},
		})
	}

	if args.MetaEngine == models.EngineMemory {
		dictStore = memory.NewDictStore()
		versionStore = memory.NewVersionStore()
	}

	tx := migration.NewTransactionProvider(provider, dictStore, sugar)

	registrations = append(registrations, registration{
		backend: func(reg backends.TransactionRegistrar) backends.Backend {
			return memory.NewBackend(models.EngineMemory, reg, sugar)
		},
	})
	for _, r := range registrations {
		if err := provider.Register(r.backend(tx)); err != nil {
			return err
		}
	}
	sugar.Infow("engines registered", "engines", provider.EngineNames())

	migrator := migration.NewStorageMigrationService(provider, dictStore, tx, sugar)
	dictService := directors.NewDictService(dictStore, provider, migrator, sugar, args)
	dataService := directors.NewDictDataService(dictService, provider,
		directors.StaticUserProvider{}, directors.StaticPermissionLookup{}, nil, sugar, args)
	directors.InitServiceManager(dictService, dataService, sugar)

	if args.MigrationDir != "" {
		interpreter := migration.NewInterpreter(dictService, dataService, sugar)
		runner := migration.NewRunner(interpreter, versionStore, tx, sugar)
		applied, err := runner.Run(ctx, args.MigrationDir)
		if err != nil {
			return err
		}
		sugar.Infow("migrations complete", "applied", applied)
	}
	return nil
}
