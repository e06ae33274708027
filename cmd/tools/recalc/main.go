// Command recalc calculates an article list read from a JSON file and prints
// the calculated wire format. With -freeze it stores the result as the
// snapshot of a document; with -load it prints a stored snapshot.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-erp/internal/accounting"
	"github.com/noah-isme/backend-erp/internal/app"
	"github.com/noah-isme/backend-erp/internal/config"
	"github.com/noah-isme/backend-erp/internal/money"
	"github.com/noah-isme/backend-erp/internal/obs"
	"github.com/noah-isme/backend-erp/internal/tax"
)

type options struct {
	input     string
	userID    int
	netto     bool
	system    bool
	country   string
	vatID     string
	currency  string
	convertTo string
	fxRate    string
	backend   bool
	precision int
	offline   bool
	rate      string
	freeze    string
	load      string
	pretty    bool
}

func main() {
	var opts options
	flag.StringVar(&opts.input, "in", "-", "article list JSON file, - for stdin")
	flag.IntVar(&opts.userID, "user", 0, "acting user id")
	flag.BoolVar(&opts.netto, "netto", false, "acting user enters net prices")
	flag.BoolVar(&opts.system, "system", false, "calculate as the system user")
	flag.StringVar(&opts.country, "country", "", "acting user country (ISO 3166 alpha-2)")
	flag.StringVar(&opts.vatID, "vat-id", "", "acting user VAT id")
	flag.StringVar(&opts.currency, "currency", "", "list currency code; defaults to the configured currency")
	flag.StringVar(&opts.convertTo, "convert-to", "", "convert amounts into this currency before calculating")
	flag.StringVar(&opts.fxRate, "fx-rate", "", "offline exchange rate of -convert-to against EUR")
	flag.BoolVar(&opts.backend, "backend", false, "backend calculation: the system user ignores VAT")
	flag.IntVar(&opts.precision, "precision", 0, "rounding precision; 0 uses CALC_PRECISION")
	flag.BoolVar(&opts.offline, "offline", false, "skip Redis and use a static tax table")
	flag.StringVar(&opts.rate, "rate", "19", "default VAT rate in offline mode")
	flag.StringVar(&opts.freeze, "freeze", "", "store the result as the snapshot of this document id")
	flag.StringVar(&opts.load, "load", "", "print the stored snapshot of this document id")
	flag.BoolVar(&opts.pretty, "pretty", true, "indent the output")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	logger := obs.NewLogger(envOrDefault("OBS_LOG_FORMAT", "console"), envOrDefault("OBS_LOG_LEVEL", "warn"))
	if err := run(ctx, opts, logger, os.Stdin, os.Stdout); err != nil {
		log.Fatalf("recalc: %v", err)
	}
}

func run(ctx context.Context, opts options, logger zerolog.Logger, stdin io.Reader, stdout io.Writer) error {
	if opts.offline && (opts.freeze != "" || opts.load != "") {
		return errors.New("-freeze and -load need Redis and cannot be combined with -offline")
	}

	var (
		deps     *app.Dependencies
		lookup   tax.Lookup
		registry money.Registry
		prec     = int32(opts.precision)
	)
	if opts.offline {
		rate, err := decimal.NewFromString(opts.rate)
		if err != nil {
			return fmt.Errorf("parse -rate: %w", err)
		}
		lookup = tax.NewStatic(envOrDefault("TAX_SHOP_COUNTRY", "DE"), rate)
		presets := []money.Currency{money.EUR, money.USD, money.GBP, money.CHF}
		if opts.fxRate != "" {
			fx, err := decimal.NewFromString(opts.fxRate)
			if err != nil || !fx.IsPositive() {
				return fmt.Errorf("parse -fx-rate %q: must be a positive decimal", opts.fxRate)
			}
			for i := range presets {
				if strings.EqualFold(presets[i].Code, opts.convertTo) {
					presets[i] = presets[i].WithRate(fx)
				}
			}
		}
		reg, err := money.NewStaticRegistry("EUR", presets...)
		if err != nil {
			return err
		}
		registry = reg
	} else {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		deps, err = app.Build(ctx, cfg, app.Options{Logger: logger})
		if err != nil {
			return err
		}
		defer deps.Close()
		lookup = deps.Lookup
		registry = deps.Currencies
		if prec == 0 {
			prec = cfg.CalcPrecision
		}
	}

	if opts.load != "" {
		unique, err := deps.Snapshots.Load(ctx, opts.load)
		if err != nil {
			return err
		}
		return write(stdout, unique.ToJSON(), opts.pretty)
	}

	data, err := readList(opts.input, stdin)
	if err != nil {
		return err
	}
	cur, err := resolveCurrency(ctx, registry, opts.currency)
	if err != nil {
		return err
	}

	calcOpts := []accounting.CalcOption{
		accounting.WithLookup(lookup),
		accounting.WithLogger(logger),
		accounting.WithCurrency(cur),
	}
	if prec > 0 {
		calcOpts = append(calcOpts, accounting.WithPrecision(prec))
	}
	if opts.backend {
		calcOpts = append(calcOpts, accounting.WithBackend())
	}

	list := accounting.ParseArticleList(data, opts.user(), cur, calcOpts...)
	if opts.convertTo != "" {
		target, err := resolveCurrency(ctx, registry, opts.convertTo)
		if err != nil {
			return err
		}
		if err := money.CheckConversion(cur, target); err != nil {
			return err
		}
		list.Convert(ctx, target)
	}

	if opts.freeze != "" {
		unique, err := list.ToUniqueList(ctx)
		if err != nil {
			return err
		}
		if err := deps.Snapshots.Save(ctx, opts.freeze, unique); err != nil {
			return err
		}
		return write(stdout, unique.ToJSON(), opts.pretty)
	}

	raw, err := list.ToJSON(ctx)
	if err != nil {
		return err
	}
	return write(stdout, raw, opts.pretty)
}

func (o options) user() *tax.User {
	if o.system {
		return tax.SystemUser()
	}
	if o.userID == 0 && !o.netto && o.country == "" && o.vatID == "" {
		return nil
	}
	return &tax.User{
		ID:      o.userID,
		Netto:   o.netto,
		Country: strings.ToUpper(strings.TrimSpace(o.country)),
		VatID:   strings.TrimSpace(o.vatID),
	}
}

func readList(path string, stdin io.Reader) (accounting.ArticleListData, error) {
	var r io.Reader = stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return accounting.ArticleListData{}, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	var data accounting.ArticleListData
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return accounting.ArticleListData{}, fmt.Errorf("decode article list: %w", err)
	}
	return data, nil
}

func resolveCurrency(ctx context.Context, registry money.Registry, code string) (money.Currency, error) {
	if code == "" {
		return registry.Default(), nil
	}
	return registry.Currency(ctx, code)
}

func write(w io.Writer, raw []byte, pretty bool) error {
	if pretty {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, string(raw))
	return err
}

func envOrDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
