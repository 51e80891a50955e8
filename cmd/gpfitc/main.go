package main

import (
	"flag"
	"image/color"
	"math"
	"math/rand"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/lucasmaystre/gofitc/infer"
	"github.com/lucasmaystre/gofitc/kern"
	"github.com/lucasmaystre/gofitc/lab"
	"github.com/lucasmaystre/gofitc/lik"
	"github.com/lucasmaystre/gofitc/means"
)

func main() {
	var (
		n    = flag.Int("n", 80, "number of training points")
		m    = flag.Int("m", 10, "number of inducing points")
		out  = flag.String("out", "posterior.png", "output plot file")
		seed = flag.Int64("seed", 42, "random seed")
	)
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Noisy observations of sin(2x) on [0, 6].
	rng := rand.New(rand.NewSource(*seed))
	xs := make([]float64, *n)
	ys := make([]float64, *n)
	for i := range xs {
		xs[i] = 6.0 * float64(i) / float64(*n-1)
		ys[i] = math.Sin(2*xs[i]) + 0.3*rng.NormFloat64()
	}

	// Center and scale the targets.
	meanY := stat.Mean(ys, nil)
	stdY := stat.StdDev(ys, nil)
	for i := range ys {
		ys[i] = (ys[i] - meanY) / stdY
	}

	x := mat.NewDense(*n, 1, xs)
	zs := make([]float64, *m)
	for i := range zs {
		zs[i] = 6.0 * float64(i) / float64(*m-1)
	}
	z := mat.NewDense(*m, 1, zs)

	engine, err := infer.NewFITC(
		kern.NewSqExp(1.0, 0.8),
		means.NewZero(),
		lik.NewGaussian(0.3),
		lab.NewRegression(ys),
		x, z,
		infer.WithLogger(logger.Named("fitc")),
	)
	if err != nil {
		logger.Fatal("engine construction failed", zap.Error(err))
	}

	nlml, err := engine.NegLogMarginalLikelihood()
	if err != nil {
		logger.Fatal("marginal likelihood failed", zap.Error(err))
	}
	grad, err := engine.DerivativeWrtLikelihoodParam(lik.ParamLogSigma)
	if err != nil {
		logger.Fatal("noise gradient failed", zap.Error(err))
	}
	logger.Info("fitted FITC posterior",
		zap.Int("n", *n),
		zap.Int("m", *m),
		zap.Float64("neg_log_marginal_likelihood", nlml),
		zap.Float64("dnlml_dlog_sigma", grad),
	)

	mu, err := engine.PosteriorMean()
	if err != nil {
		logger.Fatal("posterior mean failed", zap.Error(err))
	}
	cov, err := engine.PosteriorCovariance()
	if err != nil {
		logger.Fatal("posterior covariance failed", zap.Error(err))
	}

	if err := savePlot(*out, xs, ys, mu, cov); err != nil {
		logger.Fatal("plot failed", zap.Error(err))
	}
	logger.Info("wrote posterior plot", zap.String("path", *out))
}

func savePlot(path string, xs, ys []float64, mu *mat.VecDense, cov *mat.Dense) error {
	p := plot.New()
	p.Title.Text = "FITC posterior"
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y (standardized)"

	data := make(plotter.XYs, len(xs))
	meanLine := make(plotter.XYs, len(xs))
	upper := make(plotter.XYs, len(xs))
	lower := make(plotter.XYs, len(xs))
	for i := range xs {
		sd := math.Sqrt(math.Max(cov.At(i, i), 0))
		data[i] = plotter.XY{X: xs[i], Y: ys[i]}
		meanLine[i] = plotter.XY{X: xs[i], Y: mu.AtVec(i)}
		upper[i] = plotter.XY{X: xs[i], Y: mu.AtVec(i) + 2*sd}
		lower[i] = plotter.XY{X: xs[i], Y: mu.AtVec(i) - 2*sd}
	}

	scatter, err := plotter.NewScatter(data)
	if err != nil {
		return err
	}
	scatter.GlyphStyle.Radius = vg.Points(1.5)

	mean, err := plotter.NewLine(meanLine)
	if err != nil {
		return err
	}
	mean.Color = color.RGBA{R: 0xd6, G: 0x2f, B: 0x2f, A: 0xff}

	for _, band := range []plotter.XYs{upper, lower} {
		line, err := plotter.NewLine(band)
		if err != nil {
			return err
		}
		line.Dashes = []vg.Length{vg.Points(3), vg.Points(3)}
		line.Color = color.RGBA{R: 0xd6, G: 0x2f, B: 0x2f, A: 0x80}
		p.Add(line)
	}
	p.Add(scatter, mean)

	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}
