// Package main provides the convdnn CLI.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/born-ml/convdnn/conv"
	"github.com/born-ml/convdnn/tensor"
)

const version = "v0.0.1-dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("convdnn %s\n", version)
		return
	}
	if len(os.Args) > 1 && os.Args[1] == "bench" {
		bench(os.Args[2:])
		return
	}

	fmt.Println("convdnn - Convolution dispatch and algorithm selection for Go")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Commands:")
	fmt.Println("  version    Show version")
	fmt.Println("  bench      Time a convolution forward/backward pass")
}

// parseDims parses a comma-separated dimension list like "2,3,32,32".
func parseDims(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	dims := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("bad dimension %q: %w", p, err)
		}
		dims[i] = v
	}
	return dims, nil
}

func bench(args []string) {
	fs := flag.NewFlagSet("bench", flag.ExitOnError)
	inputDims := fs.String("input", "8,3,32,32", "Input shape N,C,H,W")
	weightDims := fs.String("weight", "16,3,3,3", "Weight shape Cout,Cin,KH,KW")
	stride := fs.Int("stride", 1, "Stride")
	padding := fs.Int("padding", 1, "Padding")
	iters := fs.Int("iters", 10, "Timed iterations")
	backward := fs.Bool("backward", false, "Also time the backward pass")
	if err := fs.Parse(args); err != nil {
		log.Fatal(err)
	}

	inShape, err := parseDims(*inputDims)
	if err != nil {
		log.Fatalf("-input: %v", err)
	}
	wShape, err := parseDims(*weightDims)
	if err != nil {
		log.Fatalf("-weight: %v", err)
	}

	input, err := tensor.NewRaw(tensor.Shape(inShape), tensor.Float32, tensor.CPU)
	if err != nil {
		log.Fatalf("input: %v", err)
	}
	weight, err := tensor.NewRaw(tensor.Shape(wShape), tensor.Float32, tensor.CPU)
	if err != nil {
		log.Fatalf("weight: %v", err)
	}
	for i := range input.AsFloat32() {
		input.AsFloat32()[i] = float32(i%13) * 0.1
	}
	for i := range weight.AsFloat32() {
		weight.AsFloat32()[i] = float32(i%7) * 0.1
	}

	e := conv.NewCPUEngine()
	opts := conv.Options{Stride: []int{*stride}, Padding: []int{*padding}}

	// Warmup and shape report.
	out, err := e.Convolution(input, weight, nil, opts)
	if err != nil {
		log.Fatalf("convolution: %v", err)
	}
	fmt.Printf("forward  %v x %v -> %v\n", input.Shape(), weight.Shape(), out.Shape())

	start := time.Now()
	for i := 0; i < *iters; i++ {
		if _, err := e.Convolution(input, weight, nil, opts); err != nil {
			log.Fatalf("convolution: %v", err)
		}
	}
	fmt.Printf("forward  %d iters: %v/iter\n", *iters, time.Since(start)/time.Duration(*iters))

	if *backward {
		gradOut := tensor.ZerosLike(out)
		for i := range gradOut.AsFloat32() {
			gradOut.AsFloat32()[i] = 1
		}
		start = time.Now()
		for i := 0; i < *iters; i++ {
			if _, _, _, err := e.ConvolutionBackward(input, weight, gradOut, opts, [3]bool{true, true, true}); err != nil {
				log.Fatalf("backward: %v", err)
			}
		}
		fmt.Printf("backward %d iters: %v/iter\n", *iters, time.Since(start)/time.Duration(*iters))
	}
}
