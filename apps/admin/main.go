package main

import (
	"fmt"
	"log"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/schema"
	appfs "github.com/trezcool/chuo/fs"
	logsvc "github.com/trezcool/chuo/services/logger"
	"github.com/trezcool/chuo/storage/database"
	sqlxrepos "github.com/trezcool/chuo/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	v, err := schema.NewValidator(validate, translator)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up schema validator: %v", err), err)
	}
	schemas := schema.Builtin()
	if err = schemas.LoadFS(appfs.FS, "schemas"); err != nil {
		logger.Fatal(fmt.Sprintf("loading schemas: %v", err), err)
	}

	// start CLI
	cli := commandLine{
		db:        db.DB,
		usrRepo:   sqlxrepos.NewUserRepository(db),
		validator: v,
		schemas:   schemas,
		out:       os.Stdout,
	}
	err = cli.run(os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("\nerror: %s\n", err), err)
		}
		os.Exit(1)
	}
}
