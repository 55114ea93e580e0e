package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"warehouse-ledger/internal/app"
	"warehouse-ledger/internal/core"
	"warehouse-ledger/internal/seed"
)

// Usage lists the one-shot commands Run understands.
const Usage = `Available: seed <file.yaml>, items, balance <item> [location], movements <item> [location] [limit], pack-max <variant> [location], check <output-item> <quantity> [location], sweep, batch <id>, shipment <id>`

// Run executes a one-shot CLI command and writes its output to out.
// args is os.Args[1:] minus any flags; the first element is the subcommand name.
func Run(ctx context.Context, svc app.ApplicationService, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("no command given\n%s", Usage)
	}

	switch args[0] {
	case "seed":
		if len(args) < 2 {
			return errors.New("usage: warehouse seed <file.yaml>")
		}
		f, err := seed.LoadFile(args[1])
		if err != nil {
			return err
		}
		res, err := svc.ApplySeed(ctx, f)
		if err != nil {
			return fmt.Errorf("seed failed: %w", err)
		}
		fmt.Fprintf(out, "Seeded %d locations, %d items, %d recipes, %d packing variants, %d opening receipts.\n",
			res.Locations, res.Items, res.Recipes, res.Variants, res.Receipts)

	case "items":
		res, err := svc.ListItems(ctx)
		if err != nil {
			return err
		}
		printItems(out, res)

	case "balance", "bal":
		if len(args) < 2 {
			return errors.New("usage: warehouse balance <item> [location]")
		}
		lvl, err := svc.GetStockLevel(ctx, args[1], optional(args, 2))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%-24s on hand %12s  reserved %12s  available %12s\n",
			lvl.Key.String(), lvl.OnHand.String(), lvl.Reserved.String(), lvl.Available.String())

	case "movements", "mov":
		if len(args) < 2 {
			return errors.New("usage: warehouse movements <item> [location] [limit]")
		}
		req := app.ListMovementsRequest{ItemID: args[1], LocationID: optional(args, 2)}
		if s := optional(args, 3); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				return fmt.Errorf("invalid limit %q", s)
			}
			req.Limit = n
		}
		res, err := svc.ListMovements(ctx, req)
		if err != nil {
			return err
		}
		printMovements(out, res)

	case "pack-max":
		if len(args) < 2 {
			return errors.New("usage: warehouse pack-max <variant> [location]")
		}
		plan, err := svc.MaxPackUnits(ctx, args[1], optional(args, 2))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %s available, %s x %s %s, %s left over\n",
			plan.Source.String(), plan.Available.String(), plan.MaxUnits.String(),
			plan.Variant.QuantityPerUnit.String(), plan.Variant.Container, plan.Remainder.String())

	case "check":
		if len(args) < 3 {
			return errors.New("usage: warehouse check <output-item> <quantity> [location]")
		}
		qty, err := decimal.NewFromString(args[2])
		if err != nil {
			return fmt.Errorf("invalid quantity %q", args[2])
		}
		check, err := svc.CheckBatchInputs(ctx, app.StartBatchRequest{
			OutputItemID:   args[1],
			OutputQuantity: qty,
			LocationID:     optional(args, 3),
		})
		if err != nil {
			return err
		}
		printInputCheck(out, check)

	case "sweep":
		res, err := svc.SweepExpired(ctx)
		if err != nil {
			return fmt.Errorf("sweep expired %d reservations, then failed: %w", res.Expired, err)
		}
		fmt.Fprintf(out, "Expired %d reservations.\n", res.Expired)

	case "batch":
		if len(args) < 2 {
			return errors.New("usage: warehouse batch <id>")
		}
		b, err := svc.GetBatch(ctx, args[1])
		if err != nil {
			return err
		}
		return printJSON(out, b)

	case "shipment":
		if len(args) < 2 {
			return errors.New("usage: warehouse shipment <id>")
		}
		shp, err := svc.GetShipment(ctx, args[1])
		if err != nil {
			return err
		}
		return printJSON(out, shp)

	default:
		return fmt.Errorf("unknown command: %s\n%s", args[0], Usage)
	}
	return nil
}

func optional(args []string, i int) string {
	if len(args) > i {
		return args[i]
	}
	return ""
}

func printItems(out io.Writer, res *app.ItemListResult) {
	fmt.Fprintf(out, "%-16s %-30s %-6s %-8s\n", "ID", "NAME", "UNIT", "KIND")
	fmt.Fprintln(out, strings.Repeat("-", 64))
	for _, it := range res.Items {
		fmt.Fprintf(out, "%-16s %-30s %-6s %-8s\n", it.ID, it.Name, it.Unit, it.Kind)
	}
}

func printMovements(out io.Writer, res *app.MovementListResult) {
	fmt.Fprintf(out, "Movements for %s\n", res.Key.String())
	fmt.Fprintf(out, "%8s  %-20s %-15s %12s  %s\n", "SEQ", "TIME", "KIND", "DELTA", "REFERENCE")
	fmt.Fprintln(out, strings.Repeat("-", 80))
	for _, m := range res.Movements {
		fmt.Fprintf(out, "%8d  %-20s %-15s %12s  %s\n",
			m.Seq, m.CreatedAt.Format("2006-01-02 15:04:05"), m.Kind, m.Delta.String(), m.Reference)
	}
}

func printInputCheck(out io.Writer, c *core.InputCheck) {
	fmt.Fprintf(out, "%s x %s at %s (recipe %s)\n", c.OutputItemID, c.RequestedQuantity.String(), c.LocationID, c.RecipeID)
	fmt.Fprintf(out, "%-16s %12s %12s %12s\n", "INPUT", "REQUIRED", "AVAILABLE", "SHORTFALL")
	fmt.Fprintln(out, strings.Repeat("-", 56))
	for _, in := range c.Inputs {
		fmt.Fprintf(out, "%-16s %12s %12s %12s\n", in.ItemID, in.Required.String(), in.Available.String(), in.Shortfall.String())
	}
	if c.Feasible {
		fmt.Fprintf(out, "Feasible. At most %s can be produced now.\n", c.MaxOutput.String())
	} else {
		fmt.Fprintf(out, "Not feasible. At most %s can be produced now.\n", c.MaxOutput.String())
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
