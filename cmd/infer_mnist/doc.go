// Command infer_mnist evaluates a SimpleMNIST checkpoint written by train_mnist on the
// MNIST validation set, and optionally on the training set.
//
//	infer_mnist --checkpoint simplemnist/version_0/checkpoints/epoch=1.ckpt
package main
