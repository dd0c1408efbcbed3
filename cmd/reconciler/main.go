// package main: reconciler service
//
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"walletmon/lib/config"
	"walletmon/lib/fetch"
	"walletmon/lib/fetch/tronscan"
	"walletmon/lib/msg"
	"walletmon/lib/msg/amqp"
	"walletmon/lib/store"
	"walletmon/lib/store/db"
	"walletmon/reconciler"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json file")
	monitor := flag.Bool("m", false, "flag to monitor the server with Prometheus at http://localhost:9090")
	flag.Parse()

	//extract configuration
	var err error
	var conf config.ServiceConfig
	if conf, err = config.ExtractConfiguration(*confPath); err != nil {
		panic(err)
	}
	log.Printf("Configuration:%+v", conf)

	// connect to database
	var dbConn store.DB
	if conf.DbConn != "" {
		log.Printf("Connecting to database:%+v\n", conf.DbConn)
		if dbConn, err = db.New(conf.DbType, conf.DbConn); err != nil {
			panic(err)
		}
		if err = dbConn.Init(); err != nil {
			panic(err)
		}
	}

	// assert the seed administrator so decrease events always have at least one eligible recipient role
	if conf.SeedAdmin != "" {
		if err = dbConn.EnsureSeedAdmin(conf.SeedAdmin); err != nil {
			panic(err)
		}
		log.Printf("Seed administrator %s asserted", conf.SeedAdmin)
	}

	// load the balance source client
	var f fetch.Fetcher = tronscan.New(conf.FetchURL)
	log.Print("Balance source client loaded")

	// load Prometheus monitor
	if *monitor {
		go func() {
			log.Println("Serving metrics API")
			h := http.NewServeMux()
			h.Handle("/metrics", promhttp.Handler())
			http.ListenAndServe(":9100", h)
		}()
	}

	// load message broker
	var mb msg.Broker
	switch conf.MbType {
	case "amqp":
		if mb, err = amqp.New(conf.MbConn); err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect
			if mb, err = amqp.New(conf.MbConn); err != nil {
				panic(err)
			}
		}
		if err = mb.Setup(nil); err != nil {
			panic(err)
		}
		defer func() {
			err := mb.Close()
			log.Printf("Closing messageBroker: %e", err)
		}()
	default:
		log.Printf("Unknown message broker type: %s\n", conf.MbType)
	}

	// create reconciler service
	r := reconciler.New(dbConn, f, mb, time.Duration(conf.Interval)*time.Second, conf.Workers, conf.Senders)

	if err = r.Start(); err != nil {
		panic(err)
	}

	// capture CTRL+C or docker's SIGTERM for gracious exit
	finish := make(chan int)
	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Println("Program killed !")
		// do last actions and wait for all write operations to end
		r.Stop()
		if errClose := db.Close(conf.DbType, dbConn); errClose != nil {
			log.Printf("Disconnecting %v database, err:%e\n", conf.DbType, errClose)
		}
		close(finish)
	}()

	<-finish
}
